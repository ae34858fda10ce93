package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Options are shared by every adapter built by the registry.
type Options struct {
	UploadTimeout time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = DefaultUploadTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Registry dispatches destination kinds to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
	opts     Options
}

// NewRegistry creates a registry holding every built-in adapter.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	r := &Registry{adapters: make(map[Kind]Adapter), opts: opts}

	r.Register(KindS3, NewSessionAdapter(NewS3Dialer(), withComponent(opts, "s3")))
	r.Register(KindGCS, NewGCSAdapter(withComponent(opts, "gcs")))
	r.Register(KindMinIO, NewMinIOAdapter(withComponent(opts, "minio")))
	r.Register(KindLocal, NewLocalAdapter(withComponent(opts, "local")))
	return r
}

func withComponent(opts Options, name string) Options {
	opts.Logger = opts.Logger.With("component", name+"-adapter")
	return opts
}

// Register installs or replaces the adapter for kind.
func (r *Registry) Register(kind Kind, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = adapter
}

// Adapter returns the adapter for kind. Kinds without a registered client get
// an adapter whose calls fail with ErrDependencyUnavailable.
func (r *Registry) Adapter(kind Kind) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[kind]; ok {
		return a
	}
	return NewSessionAdapter(nil, r.opts)
}

// ValidateConfig checks the common destination fields and the provider credentials.
func (r *Registry) ValidateConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, describeValidation(err))
	}
	return r.Adapter(cfg.Kind).CheckConfig(cfg)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// decodeCredentials copies the opaque credential map into a provider struct and validates it.
func decodeCredentials(cfg Config, out any) error {
	raw, err := yaml.Marshal(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode credentials: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return errors.New(describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(vErrs))
	for _, fe := range vErrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return "missing or invalid field(s): " + strings.Join(fields, ", ")
}
