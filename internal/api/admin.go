package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/knowledge"
)

func (s *Server) listFeatures(c echo.Context) error {
	features, err := s.features.List(c.Request().Context())
	if err != nil {
		s.logger.Error("feature list failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list features")
	}
	return c.JSON(http.StatusOK, features)
}

func (s *Server) upsertFeature(c echo.Context) error {
	var f feature.Feature
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid feature document")
	}
	if name := c.Param("name"); name != "" {
		f.FeatureName = name
	}
	ctx := c.Request().Context()
	if err := s.features.Upsert(ctx, &f); err != nil {
		// Malformed documents are rejected before any rebuild happens.
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.rebuild(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) deleteFeature(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.features.Delete(ctx, c.Param("name")); err != nil {
		if errors.Is(err, feature.ErrFeatureNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "feature not found")
		}
		s.logger.Error("feature delete failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete feature")
	}
	if err := s.rebuild(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// rebuild reloads every feature from the store and swaps in a fresh registry
// snapshot. In-flight requests keep the snapshot they started with.
func (s *Server) rebuild(c echo.Context) error {
	features, err := s.features.List(c.Request().Context())
	if err != nil {
		s.logger.Error("registry rebuild failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to rebuild registry")
	}
	s.registry.Rebuild(features, s.baseAudio)
	return nil
}

func (s *Server) listKnowledge(c echo.Context) error {
	entries, err := s.knowledge.List(c.Request().Context())
	if err != nil {
		s.logger.Error("knowledge list failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list knowledge entries")
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) upsertKnowledge(c echo.Context) error {
	var e knowledge.Entry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid knowledge entry")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.knowledge.Add(c.Request().Context(), e); err != nil {
		if errors.Is(err, knowledge.ErrMissingDesc) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("knowledge upsert failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store knowledge entry")
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) deleteKnowledge(c echo.Context) error {
	if err := s.knowledge.Delete(c.Request().Context(), c.Param("id")); err != nil {
		s.logger.Error("knowledge delete failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete knowledge entry")
	}
	return c.NoContent(http.StatusNoContent)
}
