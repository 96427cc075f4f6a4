package konflux

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
)

func entity(name string, relations ...catalog.Relation) catalog.Entity {
	return catalog.Entity{
		Kind:      "Component",
		Metadata:  catalog.EntityMetadata{Name: name, Namespace: "default"},
		Relations: relations,
	}
}

func partOf(target string) catalog.Relation {
	return catalog.Relation{Type: catalog.RelationPartOf, TargetRef: target}
}

func release(name, cluster, namespace, created string) Resource {
	r := Resource{Cluster: ClusterInfo{Name: cluster}}
	r.Name = name
	r.Namespace = namespace
	if created != "" {
		ts, err := time.Parse(time.RFC3339, created)
		if err != nil {
			panic(err)
		}
		r.CreationTimestamp = metav1.NewTime(ts)
	}
	return r
}

func TestResolveConfig(t *testing.T) {
	subs := []SubcomponentClusterConfig{{Subcomponent: "s1", Cluster: "c1", Namespace: "n1", Applications: []string{"a"}}}

	tests := []struct {
		name          string
		static        *StaticKonfluxSection
		subs          []SubcomponentClusterConfig
		wantAuth      AuthProvider
		wantClusters  []string
		wantSubsCount int
	}{
		{
			name:          "absent static section gets defaults",
			static:        nil,
			subs:          subs,
			wantAuth:      AuthProviderServiceAccount,
			wantClusters:  []string{},
			wantSubsCount: 1,
		},
		{
			name:          "nil subcomponent configs become empty",
			static:        nil,
			subs:          nil,
			wantAuth:      AuthProviderServiceAccount,
			wantClusters:  []string{},
			wantSubsCount: 0,
		},
		{
			name: "static section is merged",
			static: &StaticKonfluxSection{
				AuthProvider: AuthProviderOIDC,
				Clusters: map[string]ClusterConfig{
					"c2": {APIURL: "https://c2"},
					"c1": {APIURL: "https://c1"},
				},
			},
			subs:          subs,
			wantAuth:      AuthProviderOIDC,
			wantClusters:  []string{"c1", "c2"},
			wantSubsCount: 1,
		},
		{
			name:          "empty auth provider defaults",
			static:        &StaticKonfluxSection{},
			wantAuth:      AuthProviderServiceAccount,
			wantClusters:  []string{},
			wantSubsCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ResolveConfig(tt.static, tt.subs)
			require.NotNil(t, cfg)
			assert.Equal(t, tt.wantAuth, cfg.AuthProvider)
			assert.Equal(t, tt.wantClusters, cfg.SortedClusterNames())
			assert.NotNil(t, cfg.SubcomponentConfigs)
			assert.Len(t, cfg.SubcomponentConfigs, tt.wantSubsCount)
			for name, cluster := range cfg.Clusters {
				assert.Equal(t, name, cluster.Name)
			}
		})
	}
}

func TestResolveConfigFromRaw(t *testing.T) {
	subs := []SubcomponentClusterConfig{{Subcomponent: "s1", Cluster: "c1", Namespace: "n1", Applications: []string{"a"}}}

	t.Run("valid section", func(t *testing.T) {
		raw := map[string]interface{}{
			"authProvider": "impersonationHeaders",
			"clusters": map[string]interface{}{
				"c1": map[string]interface{}{
					"apiUrl":              "https://api.c1",
					"uiUrl":               "https://ui.c1",
					"serviceAccountToken": "secret",
				},
			},
		}
		cfg := ResolveConfigFromRaw(raw, subs, logrus.New())
		assert.Equal(t, AuthProviderImpersonationHeaders, cfg.AuthProvider)
		require.Contains(t, cfg.Clusters, "c1")
		assert.Equal(t, ClusterConfig{Name: "c1", APIURL: "https://api.c1", UIURL: "https://ui.c1", ServiceAccountToken: "secret"}, cfg.Clusters["c1"])
	})

	t.Run("malformed section falls back and logs", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logrus.New()
		logger.SetOutput(&buf)

		raw := map[string]interface{}{
			"clusters": []interface{}{"not", "a", "map"},
		}
		cfg := ResolveConfigFromRaw(raw, subs, logger)
		assert.Equal(t, AuthProviderServiceAccount, cfg.AuthProvider)
		assert.Empty(t, cfg.Clusters)
		assert.Equal(t, subs, cfg.SubcomponentConfigs)
		assert.Contains(t, buf.String(), "Failed to parse konflux configuration")
	})

	t.Run("invalid auth provider falls back", func(t *testing.T) {
		cfg := ResolveConfigFromRaw(map[string]interface{}{"authProvider": "kerberos"}, nil, logrus.New())
		assert.Equal(t, AuthProviderServiceAccount, cfg.AuthProvider)
		assert.Empty(t, cfg.SubcomponentConfigs)
	})

	t.Run("absent section", func(t *testing.T) {
		cfg := ResolveConfigFromRaw(nil, subs, nil)
		assert.Equal(t, AuthProviderServiceAccount, cfg.AuthProvider)
		assert.Empty(t, cfg.Clusters)
	})
}

func TestParseClusterSection_UnknownKey(t *testing.T) {
	_, err := ParseClusterSection(map[string]interface{}{"clusterz": map[string]interface{}{}})
	require.Error(t, err)
}

func TestParseClusterConfigAnnotation(t *testing.T) {
	tests := []struct {
		name        string
		annotation  *string
		wantStatus  AnnotationStatus
		wantConfigs int
		wantDropped int
	}{
		{name: "missing annotation", annotation: nil, wantStatus: AnnotationEmpty},
		{name: "blank annotation", annotation: strPtr("  "), wantStatus: AnnotationEmpty},
		{name: "malformed yaml", annotation: strPtr("cluster: [unterminated"), wantStatus: AnnotationMalformed},
		{name: "not a list", annotation: strPtr("cluster: c1"), wantStatus: AnnotationMalformed},
		{
			name: "valid entries",
			annotation: strPtr(`
- cluster: c1
  namespace: ns1
  applications: [app1]
- cluster: c2
  namespace: ns2
  applications: [app1, app2]
`),
			wantStatus:  AnnotationOK,
			wantConfigs: 2,
		},
		{
			name: "incomplete entries are dropped",
			annotation: strPtr(`
- cluster: c1
  namespace: ns1
  applications: [app1]
- cluster: ""
  namespace: ns2
  applications: [app1]
- cluster: c3
  namespace: ns3
  applications: []
- cluster: c4
  applications: [app1]
`),
			wantStatus:  AnnotationOK,
			wantConfigs: 1,
			wantDropped: 3,
		},
		{
			name: "all entries dropped",
			annotation: strPtr(`
- cluster: c1
  namespace: ns1
`),
			wantStatus:  AnnotationEmpty,
			wantDropped: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entity("sub")
			if tt.annotation != nil {
				e.Metadata.Annotations = map[string]string{ClusterConfigAnnotation: *tt.annotation}
			}
			result := ParseClusterConfigAnnotation(e)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Len(t, result.Configs, tt.wantConfigs)
			assert.Equal(t, tt.wantDropped, result.Dropped)
			if tt.wantStatus == AnnotationMalformed {
				assert.Error(t, result.Err)
			}
		})
	}
}

func TestSubcomponentClusterConfigs_SkipsMalformed(t *testing.T) {
	good := entity("good")
	good.Metadata.Annotations = map[string]string{ClusterConfigAnnotation: "- {cluster: c1, namespace: n1, applications: [a1]}"}
	bad := entity("bad")
	bad.Metadata.Annotations = map[string]string{ClusterConfigAnnotation: "{{{"}
	other := entity("other")
	other.Metadata.Annotations = map[string]string{ClusterConfigAnnotation: "- {cluster: c2, namespace: n2, applications: [a2]}"}

	configs := SubcomponentClusterConfigs([]catalog.Entity{good, bad, entity("none"), other}, logrus.New())
	assert.Equal(t, []SubcomponentClusterConfig{
		{Subcomponent: "good", Cluster: "c1", Namespace: "n1", Applications: []string{"a1"}},
		{Subcomponent: "other", Cluster: "c2", Namespace: "n2", Applications: []string{"a2"}},
	}, configs)
}

func TestResolveSubcomponents(t *testing.T) {
	root := entity("root")
	rootRef := "component:default/root"

	tests := []struct {
		name      string
		related   []catalog.Entity
		wantNames []string
	}{
		{
			name:      "no related entities falls back to root",
			related:   nil,
			wantNames: []string{"root"},
		},
		{
			name:      "related without part-of relation falls back to root",
			related:   []catalog.Entity{entity("a", catalog.Relation{Type: "dependsOn", TargetRef: rootRef}), entity("b")},
			wantNames: []string{"root"},
		},
		{
			name:      "guest sentinel is excluded",
			related:   []catalog.Entity{entity(GuestEntityName, partOf(rootRef))},
			wantNames: []string{"root"},
		},
		{
			name:      "part-of relation to another entity is ignored",
			related:   []catalog.Entity{entity("a", partOf("component:default/other"))},
			wantNames: []string{"root"},
		},
		{
			name: "subcomponents keep input order",
			related: []catalog.Entity{
				entity("b", partOf(rootRef)),
				entity(GuestEntityName, partOf(rootRef)),
				entity("a", partOf("Component:default/root")),
			},
			wantNames: []string{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSubcomponents(root, tt.related)
			assert.Equal(t, tt.wantNames, got.Names)
			require.Len(t, got.Entities, len(tt.wantNames))
			for i, name := range tt.wantNames {
				assert.Equal(t, name, got.Entities[i].Metadata.Name)
			}
		})
	}
}

func TestDeriveCombinations(t *testing.T) {
	configs := []SubcomponentClusterConfig{
		{Subcomponent: "s1", Cluster: "c2", Namespace: "n1", Applications: []string{"a"}},
		{Subcomponent: "s1", Cluster: "c1", Namespace: "n1", Applications: []string{"a"}},
		{Subcomponent: "s1", Cluster: "c2", Namespace: "n1", Applications: []string{"b"}},
		{Subcomponent: "s2", Cluster: "c1", Namespace: "n1", Applications: []string{"a"}},
		{Subcomponent: "s1", Cluster: "c1", Namespace: "n1", Applications: []string{"c"}},
	}

	got := DeriveCombinations(configs)
	assert.Equal(t, []Combination{
		{Subcomponent: "s1", Cluster: "c2", Namespace: "n1"},
		{Subcomponent: "s1", Cluster: "c1", Namespace: "n1"},
		{Subcomponent: "s2", Cluster: "c1", Namespace: "n1"},
	}, got)

	assert.Empty(t, DeriveCombinations(nil))
}

func TestSelectLatest(t *testing.T) {
	configs := []SubcomponentClusterConfig{
		{Subcomponent: "s1", Cluster: "c1", Namespace: "n1", Applications: []string{"a"}},
		{Subcomponent: "s1", Cluster: "c2", Namespace: "n2", Applications: []string{"a"}},
		{Subcomponent: "s2", Cluster: "c3", Namespace: "n3", Applications: []string{"a"}},
	}
	combinations := DeriveCombinations(configs)

	t.Run("newest timestamp wins", func(t *testing.T) {
		items := []Resource{
			release("old", "c1", "n1", "2024-01-01T00:00:00Z"),
			release("new", "c1", "n1", "2024-01-02T00:00:00Z"),
		}
		got := SelectLatest(combinations[:1], configs, items)
		require.Len(t, got, 1)
		assert.Equal(t, "new", got[0].Name)
	})

	t.Run("one item per combination and empty combinations omitted", func(t *testing.T) {
		items := []Resource{
			release("c2-a", "c2", "n2", "2024-03-01T00:00:00Z"),
			release("c1-a", "c1", "n1", "2024-01-01T00:00:00Z"),
			release("c1-b", "c1", "n1", "2024-02-01T00:00:00Z"),
			release("other-ns", "c1", "n9", "2025-01-01T00:00:00Z"),
		}
		got := SelectLatest(combinations, configs, items)
		require.Len(t, got, 2)
		assert.Equal(t, "c1-b", got[0].Name)
		assert.Equal(t, "c2-a", got[1].Name)
	})

	t.Run("ties and missing timestamps keep first encountered", func(t *testing.T) {
		items := []Resource{
			release("first", "c1", "n1", "2024-01-01T00:00:00Z"),
			release("second", "c1", "n1", "2024-01-01T00:00:00Z"),
			release("untimed", "c1", "n1", ""),
		}
		got := SelectLatest(combinations[:1], configs, items)
		require.Len(t, got, 1)
		assert.Equal(t, "first", got[0].Name)

		untimed := []Resource{release("u1", "c1", "n1", ""), release("u2", "c1", "n1", "")}
		got = SelectLatest(combinations[:1], configs, untimed)
		require.Len(t, got, 1)
		assert.Equal(t, "u1", got[0].Name)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		items := []Resource{
			release("b", "c1", "n1", "2024-01-02T00:00:00Z"),
			release("a", "c1", "n1", "2024-01-01T00:00:00Z"),
		}
		SelectLatest(combinations, configs, items)
		assert.Equal(t, "b", items[0].Name)
		assert.Equal(t, "a", items[1].Name)
	})
}

func TestSingleSubcomponentScenario(t *testing.T) {
	root := entity("test-entity")
	root.Metadata.Annotations = map[string]string{
		ClusterConfigAnnotation: "- cluster: c1\n  namespace: ns1\n  applications: [app1]\n",
	}

	subs := ResolveSubcomponents(root, nil)
	require.Equal(t, []string{"test-entity"}, subs.Names)

	configs := SubcomponentClusterConfigs(subs.Entities, logrus.New())
	cfg := ResolveConfig(nil, configs)
	combinations := DeriveCombinations(cfg.SubcomponentConfigs)
	require.Equal(t, []Combination{{Subcomponent: "test-entity", Cluster: "c1", Namespace: "ns1"}}, combinations)

	r := release("rel-1", "c1", "ns1", "2024-01-01T00:00:00Z")
	got := SelectLatest(combinations, cfg.SubcomponentConfigs, []Resource{r})
	require.Len(t, got, 1)
	assert.Equal(t, r, got[0])
}

func TestParseResourceKind(t *testing.T) {
	for _, k := range []string{"applications", "components", "releases"} {
		kind, err := ParseResourceKind(k)
		require.NoError(t, err)
		assert.Equal(t, ResourceKind(k), kind)
	}
	_, err := ParseResourceKind("pipelineruns")
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }

func TestResourcePage_HasMore(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "absent token ends pagination", body: `{"data": []}`, want: false},
		{name: "empty token ends pagination", body: `{"data": [], "continuationToken": ""}`, want: false},
		{name: "token continues pagination", body: `{"data": [], "continuationToken": "next"}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var page ResourcePage[Resource]
			require.NoError(t, json.Unmarshal([]byte(tt.body), &page))
			assert.Equal(t, tt.want, page.HasMore())
		})
	}
}
