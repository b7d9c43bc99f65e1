// Package transform maps raw form submissions onto the canonical contact record.
//
// Transform is pure: the clock and identifier generator are injected, so the
// output is fully determined by the input once those are fixed.
package transform

import (
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"intake/internal/contact/models"
	dErrors "intake/pkg/domain-errors"
	platformstrings "intake/pkg/platform/strings"
)

const (
	maxFieldLength = 256
	maxNotesLength = 5000
	maxTags        = 50
)

// field aliases, canonical name first. The first alias present wins.
var aliases = map[string][]string{
	"id":           {"id"},
	"name":         {"name", "fullName", "full_name", "contactName"},
	"firstName":    {"firstName", "first_name"},
	"lastName":     {"lastName", "last_name"},
	"email":        {"email", "emailAddress", "email_address"},
	"phone":        {"phone", "phoneNumber", "phone_number", "mobile"},
	"company":      {"company", "companyName", "company_name", "organization"},
	"jobTitle":     {"jobTitle", "job_title", "title", "position"},
	"department":   {"department"},
	"street":       {"street", "streetAddress", "address", "address1"},
	"city":         {"city"},
	"state":        {"state", "region", "province"},
	"postalCode":   {"postalCode", "postal_code", "zip", "zipCode"},
	"country":      {"country", "countryCode"},
	"notes":        {"notes", "message", "comments"},
	"tags":         {"tags"},
	"customFields": {"customFields", "custom_fields", "attributes"},
	"createdAt":    {"createdAt", "created_at"},
	"modifiedAt":   {"modifiedAt", "modified_at"},
}

// Transformer validates and canonicalises raw submissions.
type Transformer struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithClock fixes the time source used for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Transformer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDGenerator fixes the identifier source used when the input has no id.
func WithIDGenerator(newID func() string) Option {
	return func(t *Transformer) {
		if newID != nil {
			t.newID = newID
		}
	}
}

// New constructs a Transformer.
func New(opts ...Option) *Transformer {
	t := &Transformer{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform maps raw onto a Record. Every failing field is reported in a
// single *domainerrors.ValidationError. Unknown fields are dropped.
func (t *Transformer) Transform(raw map[string]any, actor string) (*models.Record, error) {
	verr := &dErrors.ValidationError{}
	p := parser{raw: raw, verr: verr}

	r := &models.Record{
		Name:       p.str("name", maxFieldLength),
		FirstName:  p.str("firstName", maxFieldLength),
		LastName:   p.str("lastName", maxFieldLength),
		Email:      strings.ToLower(p.str("email", maxFieldLength)),
		Phone:      p.str("phone", maxFieldLength),
		Company:    p.str("company", maxFieldLength),
		JobTitle:   p.str("jobTitle", maxFieldLength),
		Department: p.str("department", maxFieldLength),
		Street:     p.str("street", maxFieldLength),
		City:       p.str("city", maxFieldLength),
		State:      p.str("state", maxFieldLength),
		PostalCode: p.str("postalCode", maxFieldLength),
		Country:    p.str("country", maxFieldLength),
		Notes:      p.str("notes", maxNotesLength),
	}

	r.ID = p.id()
	if r.ID == "" {
		r.ID = t.newID()
	}

	r.Name, r.FirstName, r.LastName = resolveName(r.Name, r.FirstName, r.LastName)
	if r.Name == "" && !p.failed("name") {
		verr.Add("name", "is required")
	}

	switch {
	case r.Email == "" && !p.failed("email"):
		verr.Add("email", "is required")
	case r.Email != "" && !validEmail(r.Email):
		verr.Add("email", "must be a valid email address")
	}

	if r.Phone != "" && !validPhone(r.Phone) {
		verr.Add("phone", "must contain 7 to 15 digits")
	}
	if r.Country != "" {
		if !lettersAndSpaces(r.Country) {
			verr.Add("country", "must be a country name or ISO code")
		} else if len(r.Country) == 2 {
			r.Country = strings.ToUpper(r.Country)
		}
	}

	r.Tags = p.tags()
	r.CustomFields = p.customFields()

	now := t.now()
	r.CreatedAt = p.timestamp("createdAt", now)
	r.ModifiedAt = p.timestamp("modifiedAt", r.CreatedAt)
	r.CreatedBy = actor
	r.ModifiedBy = actor

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

type parser struct {
	raw  map[string]any
	verr *dErrors.ValidationError
}

func (p *parser) lookup(canonical string) (any, bool) {
	for _, key := range aliases[canonical] {
		if v, ok := p.raw[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (p *parser) failed(field string) bool {
	for _, f := range p.verr.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (p *parser) str(field string, maxLen int) string {
	v, ok := p.lookup(field)
	if !ok {
		return ""
	}
	s, ok := scalarString(v)
	if !ok {
		p.verr.Add(field, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		p.verr.Add(field, fmt.Sprintf("must be at most %d characters", maxLen))
		return ""
	}
	return s
}

func (p *parser) id() string {
	v, ok := p.lookup("id")
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		p.verr.Add("id", "must be a UUID")
		return ""
	}
	if strings.TrimSpace(s) == "" {
		return ""
	}
	parsed, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		p.verr.Add("id", "must be a UUID")
		return ""
	}
	return parsed.String()
}

func (p *parser) tags() []string {
	v, ok := p.lookup("tags")
	if !ok {
		return nil
	}
	var items []string
	switch tv := v.(type) {
	case string:
		items = strings.Split(tv, ",")
	case []string:
		items = tv
	case []any:
		for _, item := range tv {
			s, ok := item.(string)
			if !ok {
				p.verr.Add("tags", "must be a list of strings")
				return nil
			}
			items = append(items, s)
		}
	default:
		p.verr.Add("tags", "must be a list of strings")
		return nil
	}

	out := platformstrings.DedupeFold(items)
	if len(out) > maxTags {
		p.verr.Add("tags", fmt.Sprintf("must have at most %d entries", maxTags))
		return nil
	}
	return out
}

func (p *parser) customFields() map[string]string {
	v, ok := p.lookup("customFields")
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		p.verr.Add("customFields", "must be an object")
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	for _, k := range keys {
		s, ok := scalarString(m[k])
		if !ok {
			p.verr.Add("customFields."+k, "must be a scalar value")
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(s)
	}
	return out
}

func (p *parser) timestamp(field string, fallback time.Time) time.Time {
	v, ok := p.lookup(field)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		if !ok {
			p.verr.Add(field, "must be an RFC3339 timestamp")
		}
		return fallback
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		p.verr.Add(field, "must be an RFC3339 timestamp")
		return fallback
	}
	return ts.UTC()
}

// resolveName fills whichever of full/first/last name is missing from the others.
func resolveName(name, first, last string) (string, string, string) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = strings.TrimSpace(strings.Join([]string{first, last}, " "))
	}
	if first == "" && last == "" && name != "" {
		first, last = SplitName(name)
	}
	return name, first, last
}

// SplitName splits a full name into first and last tokens. The last
// whitespace-separated token is the last name; everything before it is the
// first name.
func SplitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

func scalarString(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), true
	case int:
		return strconv.Itoa(tv), true
	case int64:
		return strconv.FormatInt(tv, 10), true
	case bool:
		return strconv.FormatBool(tv), true
	default:
		return "", false
	}
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

func validPhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

func lettersAndSpaces(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
