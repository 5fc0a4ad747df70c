// Package wizard implements the integration setup flow: pick two platforms,
// authorize both, map fields, test connectivity and create the integration.
package wizard

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/SyncFox/app/models"
)

type Step string

const (
	StepSelectPlatforms Step = "select_platforms"
	StepAuthenticate    Step = "authenticate"
	StepMapFields       Step = "map_fields"
	StepTestIntegration Step = "test_integration"
	StepComplete        Step = "complete"
	StepClosed          Step = "closed"
)

type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideSource:
		return SideSource, nil
	case SideTarget:
		return SideTarget, nil
	}
	return "", ErrUnknownSide
}

func (s Side) opposite() Side {
	if s == SideSource {
		return SideTarget
	}
	return SideSource
}

var (
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrUnknownSide       = errors.New("side must be source or target")
	ErrUnknownField      = errors.New("unknown field")
	ErrNoMappings        = errors.New("at least one field mapping is required")
	ErrInvalidTransition = errors.New("operation not allowed in the current wizard step")
	ErrQuotaExceeded     = errors.New("integration limit reached, upgrade your plan to add more integrations")
	ErrAlreadyFinished   = errors.New("integration already created")
	ErrInvalidKey        = errors.New("invalid API key")
)

// SideState tracks authorization of one platform.
type SideState struct {
	Platform   string `json:"platform"`
	Authorized bool   `json:"authorized"`
	AccountID  uint   `json:"accountId,omitempty"`
}

// State is the serializable wizard state kept in the session between
// requests. Its methods are pure transitions; effects live in Flow.
type State struct {
	Step          Step                  `json:"step"`
	Source        SideState             `json:"source"`
	Target        SideState             `json:"target"`
	Mappings      []models.FieldMapping `json:"mappings"`
	TestPassed    bool                  `json:"testPassed"`
	LastError     string                `json:"lastError,omitempty"`
	IntegrationID string                `json:"integrationId,omitempty"`
}

// New returns a wizard at its first step.
func New() *State {
	return &State{Step: StepSelectPlatforms, Mappings: []models.FieldMapping{}}
}

func (s *State) side(side Side) *SideState {
	if side == SideSource {
		return &s.Source
	}
	return &s.Target
}

// Platform returns the catalog entry selected for side.
func (s *State) Platform(side Side) (Platform, bool) {
	return Lookup(s.side(side).Platform)
}

func (s *State) expect(step Step) error {
	if s.Step != step {
		return ErrInvalidTransition
	}
	return nil
}

// SelectPlatforms chooses the source and target. Both must be distinct
// catalog keys; otherwise the state is left untouched.
func (s *State) SelectPlatforms(source, target string) error {
	if err := s.expect(StepSelectPlatforms); err != nil {
		return err
	}
	source, target = strings.TrimSpace(source), strings.TrimSpace(target)
	if _, ok := Lookup(source); !ok {
		return ErrUnknownPlatform
	}
	if _, ok := Lookup(target); !ok {
		return ErrUnknownPlatform
	}
	if source == target {
		return ErrUnknownPlatform
	}
	s.Source = SideState{Platform: source}
	s.Target = SideState{Platform: target}
	s.LastError = ""
	s.Step = StepAuthenticate
	return nil
}

// MarkAuthorized records a stored credential for side and advances to field
// mapping once both sides are authorized.
func (s *State) MarkAuthorized(side Side, accountID uint) error {
	if err := s.expect(StepAuthenticate); err != nil {
		return err
	}
	st := s.side(side)
	st.Authorized = true
	st.AccountID = accountID
	s.LastError = ""
	if s.Source.Authorized && s.Target.Authorized {
		s.Step = StepMapFields
	}
	return nil
}

// fail keeps the step and remembers why the last operation failed.
func (s *State) fail(err error) error {
	s.LastError = err.Error()
	return err
}

func (s *State) mappedOn(side Side, field string) bool {
	for _, m := range s.Mappings {
		if (side == SideSource && m.Source == field) || (side == SideTarget && m.Target == field) {
			return true
		}
	}
	return false
}

// Unmapped lists the fields of side that are not part of a mapping, in
// catalog order.
func (s *State) Unmapped(side Side) []string {
	p, ok := s.Platform(side)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		if !s.mappedOn(side, f) {
			out = append(out, f)
		}
	}
	return out
}

// DropField pairs an unmapped field of side with the first unmapped field of
// the opposite side. Already mapped fields and drops without a free partner
// leave the mappings unchanged.
func (s *State) DropField(side Side, field string) error {
	if err := s.expect(StepMapFields); err != nil {
		return err
	}
	p, ok := s.Platform(side)
	if !ok || !p.HasField(field) {
		return ErrUnknownField
	}
	if s.mappedOn(side, field) {
		return nil
	}
	free := s.Unmapped(side.opposite())
	if len(free) == 0 {
		return nil
	}
	m := models.FieldMapping{Source: field, Target: free[0]}
	if side == SideTarget {
		m = models.FieldMapping{Source: free[0], Target: field}
	}
	s.Mappings = append(s.Mappings, m)
	s.TestPassed = false
	return nil
}

// RemoveMapping deletes the mapping whose source field is source.
func (s *State) RemoveMapping(source string) error {
	if err := s.expect(StepMapFields); err != nil {
		return err
	}
	for i, m := range s.Mappings {
		if m.Source == source {
			s.Mappings = append(s.Mappings[:i], s.Mappings[i+1:]...)
			return nil
		}
	}
	return ErrUnknownField
}

func (s *State) ContinueToTest() error {
	if err := s.expect(StepMapFields); err != nil {
		return err
	}
	if len(s.Mappings) == 0 {
		return s.fail(ErrNoMappings)
	}
	s.LastError = ""
	s.TestPassed = false
	s.Step = StepTestIntegration
	return nil
}

func (s *State) recordTest(err error) {
	if err != nil {
		s.TestPassed = false
		s.LastError = err.Error()
		return
	}
	s.TestPassed = true
	s.LastError = ""
	s.Step = StepComplete
}

// Close leaves a completed wizard.
func (s *State) Close() error {
	if err := s.expect(StepComplete); err != nil {
		return err
	}
	s.Step = StepClosed
	return nil
}

// Cancel abandons the wizard from any open step.
func (s *State) Cancel() error {
	if s.Step == StepClosed {
		return ErrInvalidTransition
	}
	s.Step = StepClosed
	return nil
}

func (s *State) Finished() bool {
	return s.IntegrationID != ""
}

// AccountIDs returns the stored credentials of both sides.
func (s *State) AccountIDs() []uint {
	ids := make([]uint, 0, 2)
	for _, st := range []SideState{s.Source, s.Target} {
		if st.AccountID != 0 {
			ids = append(ids, st.AccountID)
		}
	}
	return ids
}
