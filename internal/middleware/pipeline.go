package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/crystals/internal/metrics"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// Rejection short-circuits a request. Event, when set, is recorded with
// Detail as its message before the error body is written.
type Rejection struct {
	Status int
	Code   string
	Error  string
	Event  string
	Detail string
}

// Stage is one ordered check. A stage either returns the request to hand
// to the next stage (possibly with an enriched context) or a rejection.
type Stage interface {
	Name() string
	Run(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection)
}

type stageFunc struct {
	name string
	run  func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection)
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
	return s.run(w, r)
}

// NewStage adapts a function to a Stage.
func NewStage(name string, run func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection)) Stage {
	return stageFunc{name: name, run: run}
}

// PipelineConfig holds the post-processing settings.
type PipelineConfig struct {
	Env                  string
	LoginPaths           []string
	SlowRequestThreshold time.Duration
}

// Pipeline runs the global stages in order, dispatches to the handler and
// post-processes the response. Panics anywhere inside are converted into
// a generic 500.
type Pipeline struct {
	resolver *security.ClientResolver
	recorder security.EventRecorder
	failed   *security.FailedLoginCounter
	stages   []Stage
	cfg      PipelineConfig
	isLogin  func(string) bool
	logger   *slog.Logger
}

func NewPipeline(resolver *security.ClientResolver, recorder security.EventRecorder, failed *security.FailedLoginCounter, logger *slog.Logger, cfg PipelineConfig, stages ...Stage) *Pipeline {
	if cfg.SlowRequestThreshold <= 0 {
		cfg.SlowRequestThreshold = 5 * time.Second
	}
	return &Pipeline{
		resolver: resolver,
		recorder: recorder,
		failed:   failed,
		stages:   stages,
		cfg:      cfg,
		isLogin:  LoginPathMatcher(cfg.LoginPaths),
		logger:   logger,
	}
}

// LoginPathMatcher reports whether a path is one of the login-like
// endpoints. Trailing slashes are ignored.
func LoginPathMatcher(paths []string) func(string) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[normalizePath(p)] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[normalizePath(path)]
		return ok
	}
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Handler wraps next with the full pipeline.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		cc := p.resolver.Resolve(r)
		r = r.WithContext(security.WithClient(r.Context(), cc))

		setSecurityHeaders(w.Header(), r, p.cfg.Env)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				p.unhandled(ww, r, rec)
			}
			p.postProcess(ww, r, start)
		}()

		for _, stage := range p.stages {
			nr, rej := stage.Run(ww, r)
			if rej != nil {
				p.reject(ww, r, stage.Name(), rej)
				return
			}
			r = nr
		}

		next.ServeHTTP(ww, r)
	})
}

// Require returns route-level middleware running stages after the global
// ones, such as authentication and permission checks.
func (p *Pipeline) Require(stages ...Stage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, stage := range stages {
				nr, rej := stage.Run(w, r)
				if rej != nil {
					p.reject(w, r, stage.Name(), rej)
					return
				}
				r = nr
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, stage string, rej *Rejection) {
	metrics.PipelineRejections.WithLabelValues(stage, rej.Code).Inc()
	if rej.Event != "" {
		p.record(r.Context(), rej.Event, rej.Detail)
	}
	pkghttp.WriteError(w, rej.Status, rej.Code, rej.Error)
}

func (p *Pipeline) record(ctx context.Context, eventType, message string) {
	ev := models.SecurityEvent{EventType: eventType, Message: message}
	security.FillFromClient(&ev, security.ClientFromContext(ctx))
	p.recorder.Record(ctx, ev)
}

func (p *Pipeline) unhandled(ww middleware.WrapResponseWriter, r *http.Request, rec any) {
	name := fmt.Sprintf("%T", rec)
	detail := fmt.Sprint(rec)

	p.logger.Error("unhandled panic in request pipeline",
		slog.String("type", name),
		slog.String("panic", detail),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	p.record(r.Context(), models.EventUnhandledException, fmt.Sprintf("Unhandled exception: %s: %s", name, detail))

	if ww.Status() == 0 {
		pkghttp.WriteInternalError(ww)
	}
}

func (p *Pipeline) postProcess(ww middleware.WrapResponseWriter, r *http.Request, start time.Time) {
	ctx := r.Context()
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	if elapsed := time.Since(start); elapsed > p.cfg.SlowRequestThreshold {
		p.record(ctx, models.EventSlowRequest, fmt.Sprintf("Slow request: %s %s took %.2fs", r.Method, r.URL.Path, elapsed.Seconds()))
	}

	switch {
	case status == http.StatusUnauthorized:
		p.record(ctx, models.EventUnauthorizedAccessAttempt, fmt.Sprintf("Unauthorized access attempt to %s", r.URL.Path))
	case status >= http.StatusInternalServerError:
		p.record(ctx, models.EventServerError, fmt.Sprintf("Server error %d on %s %s", status, r.Method, r.URL.Path))
	}

	if p.failed == nil || !p.isLogin(r.URL.Path) {
		return
	}
	ip := security.ClientFromContext(ctx).IP
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		p.failed.Increment(ctx, ip)
	case http.StatusOK:
		p.failed.Reset(ctx, ip)
	}
}
