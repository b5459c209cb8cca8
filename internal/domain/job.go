package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/raster"
	"github.com/go-playground/validator/v10"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateJobRequest struct {
	Variant    string          `json:"variant" validate:"required,oneof=opacity grayscale circular all"`
	Opacity    *float64        `json:"opacity,omitempty"`
	Circular   *CircularParams `json:"circular,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty" validate:"omitempty,url"`
	Items      []JobItemInput  `json:"items" validate:"required,min=1,max=500,dive"`
}

type JobItemInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

// JobItem is one named source object of a batch job, in archive order.
type JobItem struct {
	Name      string `json:"name"`
	ObjectKey string `json:"object_key"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	Variant    string
	Opacity    float64
	Circular   CircularParams
	WebhookURL string
	Items      []JobItem
	ArchiveKey string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	return r.ValidateWithin(raster.DefaultMaxPixels)
}

// ValidateWithin checks the request with circular parameters bounded to
// maxPixels.
func (r CreateJobRequest) ValidateWithin(maxPixels int64) error {
	r.Variant = strings.ToLower(strings.TrimSpace(r.Variant))
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return invalidParameter("%s failed on %q", fieldPath(verrs[0].Namespace()), verrs[0].Tag())
		}
		return invalidParameter("%v", err)
	}
	if r.Opacity != nil {
		if err := ValidateOpacity(*r.Opacity); err != nil {
			return err
		}
	}
	if r.Circular != nil {
		if err := r.Circular.ValidateWithin(maxPixels); err != nil {
			return err
		}
	}
	for i, item := range r.Items {
		if strings.ContainsAny(item.Name, `/\`) {
			return invalidParameter("items[%d].name must not contain path separators", i)
		}
	}
	return nil
}

// Settings resolves the request's transform parameters, filling defaults.
func (r CreateJobRequest) Settings() (variant string, opacity float64, circular CircularParams) {
	variant = strings.ToLower(strings.TrimSpace(r.Variant))
	opacity = DefaultOpacity
	if r.Opacity != nil {
		opacity = *r.Opacity
	}
	circular = DefaultCircularParams
	if r.Circular != nil {
		circular = *r.Circular
	}
	return variant, opacity, circular
}

func (j Job) VariantSet() (VariantSet, error) {
	return ParseVariantSet(j.Variant)
}

func (j Job) Requests() ([]TransformRequest, error) {
	set, err := j.VariantSet()
	if err != nil {
		return nil, err
	}
	return RequestsFor(set, j.Opacity, j.Circular), nil
}

func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		namespace = rest
	}
	return strings.ToLower(namespace)
}
