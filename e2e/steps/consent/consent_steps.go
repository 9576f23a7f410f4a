package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string) error
	DELETE(path string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	MarkRuntimeReady()
	ResetRuntime()
	SetStorageFailing(fail bool)
	SeedRecord(raw string)
	StoredRecord() []byte
}

// RegisterSteps registers consent-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc}

	// Environment steps
	ctx.Step(`^the tag runtime is ready$`, steps.runtimeIsReady)
	ctx.Step(`^the tag runtime becomes ready$`, steps.runtimeIsReady)
	ctx.Step(`^the tag runtime is not ready$`, steps.runtimeIsNotReady)
	ctx.Step(`^consent storage is unavailable$`, steps.storageIsUnavailable)
	ctx.Step(`^consent storage recovers$`, steps.storageRecovers)
	ctx.Step(`^the stored consent record is "([^"]*)"$`, steps.seedRecord)

	// Visitor actions
	ctx.Step(`^I open the page$`, steps.openPage)
	ctx.Step(`^I check my consent state$`, steps.checkState)
	ctx.Step(`^I accept all categories$`, steps.acceptAll)
	ctx.Step(`^I reject all categories$`, steps.rejectAll)
	ctx.Step(`^I toggle "([^"]*)" (on|off)$`, steps.toggle)
	ctx.Step(`^I save my custom selection$`, steps.saveCustom)
	ctx.Step(`^I forget my consent$`, steps.forget)

	// Tag runtime assertions
	ctx.Step(`^the tag runtime should have received (\d+) consent updates?$`, steps.runtimeShouldHaveReceived)
	ctx.Step(`^no consent update should have been sent$`, steps.noUpdateSent)
	ctx.Step(`^the last consent update should set "([^"]*)" to "([^"]*)"$`, steps.lastUpdateShouldSet)
	ctx.Step(`^the last consent update should deny every advertising signal$`, steps.lastUpdateDeniesAdvertising)

	// State assertions
	ctx.Step(`^I should have no consent decision$`, steps.shouldHaveNoDecision)
	ctx.Step(`^I should have a consent decision from "([^"]*)"$`, steps.shouldHaveDecisionFrom)
	ctx.Step(`^my draft should grant "([^"]*)"$`, steps.draftShouldGrant)
	ctx.Step(`^the stored consent record should not be "([^"]*)"$`, steps.storedRecordShouldNotBe)
}

type consentSteps struct {
	tc       TestContext
	draft    map[string]bool
	received []map[string]string
}

func (s *consentSteps) runtimeIsReady(ctx context.Context) error {
	s.tc.MarkRuntimeReady()
	return nil
}

func (s *consentSteps) runtimeIsNotReady(ctx context.Context) error {
	s.tc.ResetRuntime()
	return nil
}

func (s *consentSteps) storageIsUnavailable(ctx context.Context) error {
	s.tc.SetStorageFailing(true)
	return nil
}

func (s *consentSteps) storageRecovers(ctx context.Context) error {
	s.tc.SetStorageFailing(false)
	return nil
}

func (s *consentSteps) seedRecord(ctx context.Context, raw string) error {
	s.tc.SeedRecord(raw)
	return nil
}

func (s *consentSteps) openPage(ctx context.Context) error {
	if err := s.tc.POST("/consent/start", nil); err != nil {
		return err
	}
	return s.expectOK()
}

func (s *consentSteps) checkState(ctx context.Context) error {
	if err := s.tc.GET("/consent"); err != nil {
		return err
	}
	return s.expectOK()
}

func (s *consentSteps) acceptAll(ctx context.Context) error {
	return s.tc.POST("/consent/accept-all", nil)
}

func (s *consentSteps) rejectAll(ctx context.Context) error {
	return s.tc.POST("/consent/reject-all", nil)
}

func (s *consentSteps) toggle(ctx context.Context, category, state string) error {
	body := map[string]interface{}{
		"draft":    s.draft,
		"category": category,
		"value":    state == "on",
	}
	if err := s.tc.POST("/consent/draft", body); err != nil {
		return err
	}
	if err := s.expectOK(); err != nil {
		return err
	}

	var res struct {
		Draft map[string]bool `json:"draft"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &res); err != nil {
		return fmt.Errorf("failed to parse draft response: %w", err)
	}
	s.draft = res.Draft
	return nil
}

func (s *consentSteps) saveCustom(ctx context.Context) error {
	draft := s.draft
	if draft == nil {
		draft = map[string]bool{}
	}
	return s.tc.POST("/consent/custom", map[string]interface{}{"preferences": draft})
}

func (s *consentSteps) forget(ctx context.Context) error {
	return s.tc.DELETE("/consent")
}

// drain collects any dataLayer commands queued since the last check.
func (s *consentSteps) drain() error {
	if err := s.tc.GET("/consent/datalayer"); err != nil {
		return err
	}
	if err := s.expectOK(); err != nil {
		return err
	}

	var res struct {
		Commands [][]json.RawMessage `json:"commands"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &res); err != nil {
		return fmt.Errorf("failed to parse datalayer response: %w", err)
	}
	for _, cmd := range res.Commands {
		if len(cmd) != 3 {
			return fmt.Errorf("expected a three-element consent command, got %d elements", len(cmd))
		}
		var signal map[string]string
		if err := json.Unmarshal(cmd[2], &signal); err != nil {
			return fmt.Errorf("failed to parse consent signal: %w", err)
		}
		s.received = append(s.received, signal)
	}
	return nil
}

func (s *consentSteps) runtimeShouldHaveReceived(ctx context.Context, expected int) error {
	if err := s.drain(); err != nil {
		return err
	}
	if len(s.received) != expected {
		return fmt.Errorf("expected %d consent updates, got %d", expected, len(s.received))
	}
	return nil
}

func (s *consentSteps) noUpdateSent(ctx context.Context) error {
	return s.runtimeShouldHaveReceived(ctx, 0)
}

func (s *consentSteps) lastUpdateShouldSet(ctx context.Context, key, expected string) error {
	if len(s.received) == 0 {
		return fmt.Errorf("no consent update received")
	}
	last := s.received[len(s.received)-1]
	if len(last) != 7 {
		return fmt.Errorf("expected a complete seven-key signal, got %d keys", len(last))
	}
	if actual := last[key]; actual != expected {
		return fmt.Errorf("expected %s to be %q, got %q", key, expected, actual)
	}
	return nil
}

func (s *consentSteps) lastUpdateDeniesAdvertising(ctx context.Context) error {
	for _, key := range []string{"ad_storage", "ad_user_data", "ad_personalization"} {
		if err := s.lastUpdateShouldSet(ctx, key, "denied"); err != nil {
			return err
		}
	}
	return nil
}

func (s *consentSteps) shouldHaveNoDecision(ctx context.Context) error {
	value, err := s.tc.GetResponseField("has_decision")
	if err != nil {
		return err
	}
	if value != false {
		return fmt.Errorf("expected no consent decision, got has_decision=%v", value)
	}
	return nil
}

func (s *consentSteps) shouldHaveDecisionFrom(ctx context.Context, source string) error {
	value, err := s.tc.GetResponseField("decision.source")
	if err != nil {
		return err
	}
	if value != source {
		return fmt.Errorf("expected decision source %q, got %v", source, value)
	}
	return nil
}

func (s *consentSteps) draftShouldGrant(ctx context.Context, category string) error {
	if !s.draft[category] {
		return fmt.Errorf("expected draft to grant %s, got %v", category, s.draft)
	}
	return nil
}

func (s *consentSteps) storedRecordShouldNotBe(ctx context.Context, raw string) error {
	if stored := strings.TrimSpace(string(s.tc.StoredRecord())); stored == raw {
		return fmt.Errorf("expected stored record to be replaced, still %q", stored)
	}
	return nil
}

func (s *consentSteps) expectOK() error {
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("expected status 200, got %d: %s", status, string(s.tc.GetLastResponseBody()))
	}
	return nil
}
