package target

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultPort is used when a descriptor carries no port
	DefaultPort = 22

	// DefaultTag is the tag carried by descriptors with no explicit tags
	DefaultTag = "default"
)

// Target describes one remote host and how to authenticate to it.
// Exactly one of Password and KeyFile is set.
type Target struct {
	Host     string   `validate:"required,nospace"`
	Port     int      `validate:"min=1,max=65535"`
	User     string   `validate:"required"`
	Password string   `validate:"required_without=KeyFile,excluded_with=KeyFile"`
	KeyFile  string   `validate:"required_without=Password"`
	Tags     []string `validate:"dive,required"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Hosts are whatever ssh can resolve: names, addresses or ssh_config aliases
		_ = validate.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
			return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
		})
	})
	return validate
}

// ValidationError lists every problem found in a descriptor
type ValidationError struct {
	Host     string
	Problems []string

	// Credential is set when a problem concerns the password or key file
	Credential bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.Host, strings.Join(e.Problems, "; "))
}

// New applies defaults to t and validates it.
func New(t Target) (Target, error) {
	t = t.WithDefaults()
	if err := Validate(t); err != nil {
		return t, err
	}
	return t, nil
}

// WithDefaults returns a copy of t with the default port and tag set filled in
// and tags trimmed and de-duplicated.
func (t Target) WithDefaults() Target {
	t.Host = strings.TrimSpace(t.Host)
	t.User = strings.TrimSpace(t.User)
	t.KeyFile = strings.TrimSpace(t.KeyFile)
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	t.Tags = normalizeTags(t.Tags)
	if len(t.Tags) == 0 {
		t.Tags = []string{DefaultTag}
	}
	return t
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// Validate checks the descriptor invariants: hostname, username and exactly
// one credential kind.
func Validate(t Target) error {
	err := validatorInstance().Struct(t)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ve := &ValidationError{Host: t.Host}
	seen := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		if fe.Field() == "Password" || fe.Field() == "KeyFile" {
			ve.Credential = true
		}
		msg := describe(fe)
		if !seen[msg] {
			seen[msg] = true
			ve.Problems = append(ve.Problems, msg)
		}
	}
	return ve
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Password", "KeyFile":
		return "exactly one of password or key file is required"
	case "Host":
		if fe.Tag() == "required" {
			return "hostname is required"
		}
		return fmt.Sprintf("invalid hostname %q", fe.Value())
	case "User":
		return "username is required"
	case "Port":
		return fmt.Sprintf("port %v out of valid range (1-65535)", fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
}

// TagSet returns the tags of t, or the default tag when it has none.
func (t Target) TagSet() []string {
	if len(t.Tags) == 0 {
		return []string{DefaultTag}
	}
	return t.Tags
}

// HasAnyTag reports whether t carries at least one of tags (case-insensitive).
func (t Target) HasAnyTag(tags ...string) bool {
	for _, have := range t.TagSet() {
		for _, want := range tags {
			if strings.EqualFold(have, strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

// Address returns the host:port dial address.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// AuthKind names the credential kind without revealing it.
func (t Target) AuthKind() string {
	if t.KeyFile != "" {
		return "key"
	}
	return "password"
}

// String renders user@host:port.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Address())
}
