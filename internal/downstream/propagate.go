package downstream

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"intake/internal/contact/models"
	"intake/internal/contact/transform"
	"intake/pkg/platform/sentinel"
)

// Step names reported in Result.Steps.
const (
	StepPerson       = "person"
	StepEmail        = "email"
	StepPhone        = "phone"
	StepAddress      = "address"
	StepOrganization = "organization"
	StepEmployment   = "employment"
	StepNote         = "note"
	StepDepartment   = "attribute:department"
	StepTags         = "attribute:tags"
	stepCustomPrefix = "attribute:"
)

// StepResult is the outcome of one propagation sub-step.
type StepResult struct {
	Step      string `json:"step"`
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of Propagate. Success depends only on the person
// step; the other steps are best effort and reported in Steps.
type Result struct {
	Success  bool         `json:"success"`
	RemoteID string       `json:"remoteId,omitempty"`
	Error    string       `json:"error,omitempty"`
	Steps    []StepResult `json:"steps"`

	// Err is the person-step failure when Success is false.
	Err error `json:"-"`
}

// FailedSteps returns the steps that were attempted and failed.
func (r Result) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Attempted && !s.Succeeded {
			out = append(out, s)
		}
	}
	return out
}

type task struct {
	step string
	run  func(ctx context.Context) error
}

// Propagate creates r in the party system:
//
//  1. person (abort on failure)
//  2. email, phone and postal channels, concurrently
//  3. organization find-or-create, then employment
//  4. note, department, tags and custom fields, concurrently
func (c *Client) Propagate(ctx context.Context, r *models.Record) Result {
	first, last := r.FirstName, r.LastName
	if first == "" && last == "" {
		first, last = transform.SplitName(r.Name)
	}

	person, err := c.CreatePerson(ctx, first, last)
	if err != nil {
		c.record(StepPerson, false)
		c.logger.ErrorContext(ctx, "person creation failed",
			"record_id", r.ID,
			"error", err,
		)
		return Result{
			Success: false,
			Error:   err.Error(),
			Err:     err,
			Steps:   []StepResult{{Step: StepPerson, Attempted: true, Error: err.Error()}},
		}
	}
	c.record(StepPerson, true)
	steps := []StepResult{{Step: StepPerson, Attempted: true, Succeeded: true}}

	steps = append(steps, c.settle(ctx, r.ID, c.channelTasks(r, person.ID))...)
	steps = append(steps, c.organizationSteps(ctx, r, person.ID)...)
	steps = append(steps, c.settle(ctx, r.ID, c.attributeTasks(r, person.ID))...)

	return Result{Success: true, RemoteID: person.ID, Steps: steps}
}

func (c *Client) channelTasks(r *models.Record, personID string) []task {
	var tasks []task
	if r.Email != "" {
		tasks = append(tasks, task{StepEmail, func(ctx context.Context) error {
			return c.AddEmail(ctx, personID, r.Email)
		}})
	}
	if r.Phone != "" {
		tasks = append(tasks, task{StepPhone, func(ctx context.Context) error {
			return c.AddPhone(ctx, personID, r.Phone)
		}})
	}
	if r.HasPostalAddress() {
		addr := Address{
			Street:     r.Street,
			City:       r.City,
			State:      r.State,
			PostalCode: r.PostalCode,
			Country:    r.Country,
		}
		if addr.Country != "" {
			addr.Country = c.geo.Country(r.Country)
		}
		if addr.State != "" {
			addr.State = c.geo.State(r.Country, r.State)
		}
		tasks = append(tasks, task{StepAddress, func(ctx context.Context) error {
			return c.AddAddress(ctx, personID, addr)
		}})
	}
	return tasks
}

func (c *Client) attributeTasks(r *models.Record, personID string) []task {
	var tasks []task
	if r.Notes != "" {
		tasks = append(tasks, task{StepNote, func(ctx context.Context) error {
			return c.AddNote(ctx, personID, r.Notes)
		}})
	}
	if r.Department != "" {
		tasks = append(tasks, task{StepDepartment, func(ctx context.Context) error {
			return c.AddAttribute(ctx, personID, "department", r.Department)
		}})
	}
	if len(r.Tags) > 0 {
		tags := strings.Join(r.Tags, ",")
		tasks = append(tasks, task{StepTags, func(ctx context.Context) error {
			return c.AddAttribute(ctx, personID, "tags", tags)
		}})
	}
	keys := make([]string, 0, len(r.CustomFields))
	for k := range r.CustomFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key, value := k, r.CustomFields[k]
		tasks = append(tasks, task{stepCustomPrefix + key, func(ctx context.Context) error {
			return c.AddAttribute(ctx, personID, key, value)
		}})
	}
	return tasks
}

// organizationSteps finds or creates the company by exact name and links the
// person to it. Both steps are best effort.
func (c *Client) organizationSteps(ctx context.Context, r *models.Record, personID string) []StepResult {
	if r.Company == "" {
		return nil
	}
	org, err := c.FindOrganization(ctx, r.Company)
	if errors.Is(err, sentinel.ErrNotFound) {
		org, err = c.CreateOrganization(ctx, r.Company)
	}
	orgStep := c.stepResult(ctx, r.ID, StepOrganization, err)
	if err != nil {
		return []StepResult{orgStep, {Step: StepEmployment}}
	}
	err = c.AddEmployment(ctx, personID, org.ID, r.JobTitle)
	return []StepResult{orgStep, c.stepResult(ctx, r.ID, StepEmployment, err)}
}

// settle runs tasks concurrently and waits for all of them. Goroutines never
// return an error so one failure cannot cancel its siblings.
func (c *Client) settle(ctx context.Context, recordID string, tasks []task) []StepResult {
	results := make([]StepResult, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = c.stepResult(ctx, recordID, t.step, t.run(ctx))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Client) stepResult(ctx context.Context, recordID, step string, err error) StepResult {
	c.record(step, err == nil)
	if err != nil {
		c.logger.WarnContext(ctx, "propagation sub-step failed",
			"record_id", recordID,
			"step", step,
			"error", err,
		)
		return StepResult{Step: step, Attempted: true, Error: err.Error()}
	}
	return StepResult{Step: step, Attempted: true, Succeeded: true}
}

func (c *Client) record(step string, ok bool) {
	label := step
	if strings.HasPrefix(step, stepCustomPrefix) && step != StepDepartment && step != StepTags {
		label = "attribute:custom"
	}
	c.metrics.IncPropagationStep(label, ok)
}
