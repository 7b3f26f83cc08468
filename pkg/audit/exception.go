package audit

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	pkgerrors "github.com/pkg/errors"

	"github.com/platinummonkey/audittrail/pkg/httputil"
	"github.com/platinummonkey/audittrail/pkg/observability"
)

// DefaultErrorFormat is the content type forced on audited error responses
const DefaultErrorFormat = httputil.ContentTypeJSONLD

// ExceptionListenerConfig configures an ExceptionListener
type ExceptionListenerConfig struct {
	// Exclusions.Routes lists route names whose errors are not audited
	Exclusions        ExclusionPolicy
	ErrorFormat       string
	TranslateMessages bool
}

// DefaultExceptionListenerConfig returns the default configuration
func DefaultExceptionListenerConfig() ExceptionListenerConfig {
	return ExceptionListenerConfig{
		Exclusions:        DefaultExclusionPolicy(),
		ErrorFormat:       DefaultErrorFormat,
		TranslateMessages: true,
	}
}

// ExceptionListener audits unhandled HTTP and console errors. Audit failures
// are logged and never replace the error being reported.
type ExceptionListener struct {
	recorder   Recorder
	translator Translator
	logger     *observability.Logger
	cfg        ExceptionListenerConfig
}

func NewExceptionListener(recorder Recorder, translator Translator, logger *observability.Logger, cfg ExceptionListenerConfig) *ExceptionListener {
	if translator == nil {
		translator = IdentityTranslator{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.ErrorFormat == "" {
		cfg.ErrorFormat = DefaultErrorFormat
	}
	return &ExceptionListener{
		recorder:   recorder,
		translator: translator,
		logger:     logger,
		cfg:        cfg,
	}
}

// HandleHTTPError audits err raised while serving r and returns the error to
// render. Errors on excluded routes are returned unchanged and not audited.
func (l *ExceptionListener) HandleHTTPError(w http.ResponseWriter, r *http.Request, err error) error {
	if err == nil {
		return nil
	}

	if l.cfg.Exclusions.ExcludesRoute(routeName(r)) {
		return err
	}

	w.Header().Set("Content-Type", l.cfg.ErrorFormat)

	if auditErr := l.recorder.AuditException(r.Context(), err, r.URL.Path); auditErr != nil {
		l.logAuditFailure(r.Context(), auditErr, err, r.URL.Path)
	}

	return l.translate(err)
}

// HandleConsoleError audits an error from a command. The original error is
// returned.
func (l *ExceptionListener) HandleConsoleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if auditErr := l.recorder.AuditException(ctx, err, ""); auditErr != nil {
		l.logAuditFailure(ctx, auditErr, err, "")
	}
	return err
}

// RunCommand runs fn, auditing a returned error or a recovered panic
func (l *ExceptionListener) RunCommand(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = l.HandleConsoleError(ctx, pkgerrors.WithStack(perr))
		}
	}()

	if err := fn(ctx); err != nil {
		return l.HandleConsoleError(ctx, err)
	}
	return nil
}

// Middleware recovers panics from next, audits them and renders an error body
func (l *ExceptionListener) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := observability.MustRecover(recover()); err != nil {
				l.render(w, r, pkgerrors.WithStack(err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Wrap adapts a handler that returns errors. Returned errors and panics are
// audited and rendered.
func (l *ExceptionListener) Wrap(fn func(http.ResponseWriter, *http.Request) error) http.Handler {
	return l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			l.render(w, r, err)
		}
	}))
}

func (l *ExceptionListener) render(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	out := l.HandleHTTPError(w, r, err)

	format := w.Header().Get("Content-Type")
	if format == "" {
		format = httputil.ContentTypeJSON
	}
	httputil.WriteFormattedError(w, status, format, out.Error())
}

func (l *ExceptionListener) translate(err error) error {
	if !l.cfg.TranslateMessages {
		return err
	}
	msg := err.Error()
	translated := l.translator.Translate(msg, nil, DomainMessages)
	if translated == "" || translated == msg {
		return err
	}
	return &TranslatedError{Message: translated, Err: err}
}

func (l *ExceptionListener) logAuditFailure(ctx context.Context, auditErr, original error, url string) {
	logger := l.logger.For(ctx).WithError(auditErr).WithField("original_error", original.Error())
	if url != "" {
		logger = logger.WithField("url", url)
	}

	if errors.Is(auditErr, ErrStorageFailure) {
		logger.Error("failed to store exception audit record")
		return
	}
	logger.Warn("exception audit rejected")
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	if info := (ContextRequests{}).CurrentRequest(r.Context()); info != nil {
		return info.RouteName
	}
	return ""
}
