// Package daemon serves the registry over HTTP for scrapers and read-only
// consumers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/cursor"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/ingest"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
	"github.com/MGMAppDev/soccerview-sub003/internal/registry"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

// TokenHeader is accepted in place of a bearer Authorization header.
const TokenHeader = "X-Teamqd-Token"

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Options configures a Server.
type Options struct {
	// Token, when set, is required on every request.
	Token  string
	Holder string
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Server handles registry HTTP requests.
type Server struct {
	store    *store.Store
	gate     *lease.Manager
	resolver *registry.Resolver
	opts     Options
	log      logrus.FieldLogger
}

// New creates a Server.
func New(s *store.Store, gate *lease.Manager, resolver *registry.Resolver, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Holder == "" {
		opts.Holder = lease.HolderName("teamqd")
	}
	return &Server{store: s, gate: gate, resolver: resolver, opts: opts, log: logging.OrDiscard(opts.Logger)}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	v1 := r.Group("/v1", s.auth())
	v1.GET("/health", s.handleHealth)
	v1.POST("/resolve", s.handleResolve)
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/teams", s.handleTeamsList)
	v1.GET("/teams/:id", s.handleTeamGet)
	v1.GET("/sources/:source/:entity", s.handleSourceLookup)
	v1.GET("/audit", s.handleAudit)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.GetHeader(TokenHeader)
		}
		if token != s.opts.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// statusFor maps registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return http.StatusLocked
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidObservation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.store.DB().PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	_, pending, err := s.store.DB().MigrationStatus(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"database":           s.store.DB().Path(),
		"pending_migrations": len(pending),
	})
}

// handleResolve resolves a single team observation under its own lease.
func (s *Server) handleResolve(c *gin.Context) {
	var obs domain.TeamObservation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid observation: %v", err)})
		return
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = s.opts.Now().UTC()
	}

	var res *registry.Resolution
	err := s.gate.Do(c.Request.Context(), lease.RegistryGate, s.opts.Holder, func(ctx context.Context, l *lease.Lease) error {
		var err error
		res, err = s.resolver.Resolve(ctx, l, obs)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleIngest applies one observation document (JSON or YAML).
func (s *Server) handleIngest(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := ingest.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if doc.Name == "" {
		doc.Name = "request"
	}

	runner := ingest.NewRunner(s.resolver, ingest.Options{
		ContinueOnError: c.Query("continue_on_error") == "true",
		Logger:          s.log,
		Now:             s.opts.Now,
	})
	var sum *ingest.Summary
	err = s.gate.Do(c.Request.Context(), lease.RegistryGate, s.opts.Holder, func(ctx context.Context, l *lease.Lease) error {
		var err error
		sum, err = runner.Run(ctx, l, []*ingest.Document{doc})
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	status := http.StatusOK
	switch {
	case sum.Result.Failed > 0 && sum.Result.Succeeded > 0:
		status = http.StatusMultiStatus
	case sum.Result.Failed > 0:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, sum)
}

func pageSize(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxPageSize {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}
	return n, nil
}

func (s *Server) handleTeamsList(c *gin.Context) {
	limit, err := pageSize(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cur, err := cursor.Decode(c.Query("cursor"), cursor.ListingTeams)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, last := cur.After()

	ctx := c.Request.Context()
	teams, err := s.store.Teams.Page(ctx, s.store.DB(), key, last, limit+1)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := gin.H{"teams": teams}
	if teams == nil {
		resp["teams"] = []*domain.Team{}
	}
	if len(teams) > limit {
		teams = teams[:limit]
		resp["teams"] = teams
		tail := teams[limit-1]
		next, err := cursor.New(cursor.ListingTeams, db.FormatTime(tail.CreatedAt), tail.ID)
		if err != nil {
			s.fail(c, err)
			return
		}
		encoded, err := next.Encode()
		if err != nil {
			s.fail(c, err)
			return
		}
		resp["next_cursor"] = encoded
	}
	c.JSON(http.StatusOK, resp)
}

// handleTeamGet returns a live team. A merged-away id answers 410 with the
// surviving team's id.
func (s *Server) handleTeamGet(c *gin.Context) {
	ctx := c.Request.Context()
	ex := s.store.DB()
	teamID := c.Param("id")

	team, err := s.store.Teams.Get(ctx, ex, teamID)
	if errors.Is(err, domain.ErrNotFound) {
		survivor, ferr := audit.Follow(ctx, ex, teamID)
		if ferr != nil {
			s.fail(c, ferr)
			return
		}
		if survivor != teamID {
			c.JSON(http.StatusGone, gin.H{"error": "team was merged", "merged_into": survivor})
			return
		}
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	mappings, err := s.store.Mappings.ForTeams(ctx, ex, []string{team.ID})
	if err != nil {
		s.fail(c, err)
		return
	}
	if mappings == nil {
		mappings = []domain.SourceMapping{}
	}
	c.JSON(http.StatusOK, gin.H{"team": team, "state": team.State(), "mappings": mappings})
}

func (s *Server) handleSourceLookup(c *gin.Context) {
	ctx := c.Request.Context()
	ex := s.store.DB()
	source, entity := c.Param("source"), c.Param("entity")

	m, ok, err := s.store.Mappings.Get(ctx, ex, source, entity)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, &domain.NotFoundError{Resource: "source mapping", ID: source + ":" + entity})
		return
	}
	exists, err := s.store.Teams.Exists(ctx, ex, m.TeamID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !exists {
		s.fail(c, &domain.SourceMapIntegrityError{SourceID: source, SourceEntityID: entity, TeamID: m.TeamID})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleAudit(c *gin.Context) {
	limit, err := pageSize(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cur, err := cursor.Decode(c.Query("cursor"), cursor.ListingAudit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	before, beforeID := cur.After()

	records, err := audit.List(c.Request.Context(), s.store.DB(), audit.Filter{
		RecordID:      c.Query("record"),
		Action:        domain.AuditAction(strings.ToUpper(c.Query("action"))),
		BatchID:       c.Query("batch"),
		Limit:         limit + 1,
		BeforeCreated: before,
		BeforeID:      beforeID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := gin.H{"records": records}
	if records == nil {
		resp["records"] = []domain.AuditRecord{}
	}
	if len(records) > limit {
		records = records[:limit]
		resp["records"] = records
		tail := records[limit-1]
		next, err := cursor.New(cursor.ListingAudit, db.FormatTime(tail.CreatedAt), tail.ID)
		if err != nil {
			s.fail(c, err)
			return
		}
		encoded, err := next.Encode()
		if err != nil {
			s.fail(c, err)
			return
		}
		resp["next_cursor"] = encoded
	}
	c.JSON(http.StatusOK, resp)
}
