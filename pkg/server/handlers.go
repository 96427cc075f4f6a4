package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/konflux-ci/konflux-aggregator/pkg/aggregator"
	"github.com/konflux-ci/konflux-aggregator/pkg/backend"
	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// badRequestError marks caller input errors.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func entityRef(c *gin.Context) catalog.EntityRef {
	return catalog.EntityRef{
		Kind:      c.Param("kind"),
		Namespace: c.Param("namespace"),
		Name:      c.Param("name"),
	}
}

func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.service.KonfluxConfig(c.Request.Context(), entityRef(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) getResources(c *gin.Context) {
	kind, err := konflux.ParseResourceKind(c.Param("resourceKind"))
	if err != nil {
		s.writeError(c, &badRequestError{err: err})
		return
	}
	pages, err := parsePages(c.Query("pages"))
	if err != nil {
		s.writeError(c, &badRequestError{err: err})
		return
	}

	filters := aggregator.Filters{
		Subcomponent: c.Query("subcomponent"),
		Clusters:     splitList(c.Query("clusters")),
		Application:  c.Query("application"),
	}

	var list *aggregator.ResourceList
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		list, err = s.service.Refetch(c.Request.Context(), kind, entityRef(c), filters)
		if err == nil && pages != 0 && pages != 1 {
			list, err = s.service.Resources(c.Request.Context(), kind, entityRef(c), filters, pages)
		}
	} else {
		list, err = s.service.Resources(c.Request.Context(), kind, entityRef(c), filters, pages)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getLatestReleases(c *gin.Context) {
	latest, err := s.service.LatestReleases(c.Request.Context(), entityRef(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (s *Server) getOverview(c *gin.Context) {
	overview, err := s.service.Overview(c.Request.Context(), entityRef(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// parsePages accepts a positive page count or "all".
func parsePages(raw string) (int, error) {
	switch raw {
	case "":
		return 1, nil
	case "all":
		return -1, nil
	}
	pages, err := strconv.Atoi(raw)
	if err != nil || pages < 1 {
		return 0, fmt.Errorf("invalid pages %q: expected a positive number or \"all\"", raw)
	}
	return pages, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) writeError(c *gin.Context, err error) {
	var (
		badRequest *badRequestError
		httpErr    *backend.HTTPError
	)
	switch {
	case errors.As(err, &badRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrEntityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &httpErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": httpErr.Message, "upstreamStatus": httpErr.StatusCode})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request was cancelled"})
	default:
		s.logger.Errorf("Request %s failed: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
