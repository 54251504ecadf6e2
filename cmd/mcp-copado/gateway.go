package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Mode is the data source the client talks to.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

// Copado sobjects and fields
const (
	sobjectUserStory         = "copado__User_Story__c"
	sobjectPromotion         = "copado__Promotion__c"
	sobjectPromotedUserStory = "copado__Promoted_User_Story__c"
	sobjectEnvironment       = "copado__Environment__c"

	fieldStatus          = "copado__Status__c"
	fieldSourceEnv       = "copado__Source_Environment__c"
	fieldDestinationEnv  = "copado__Destination_Environment__c"
	fieldPromotion       = "copado__Promotion__c"
	fieldUserStory       = "copado__User_Story__c"
	timestampLayout      = "2006-01-02T15:04:05.000000Z"
	maxIDAttempts        = 32
	promotionIDHexDigits = 4
)

// CopadoClient serves the four Copado operations from the fixture store or
// from the remote org. Live read and create failures fall back to the store.
type CopadoClient struct {
	mode   Mode
	store  FixtureStore
	remote Remote
	logger *slog.Logger
	now    func() time.Time
}

// NewCopadoClient returns a live client when creds are complete and a mock
// client otherwise.
func NewCopadoClient(store FixtureStore, creds Credentials, logger *slog.Logger) *CopadoClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CopadoClient{
		mode:   ModeMock,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	if creds.Complete() {
		c.mode = ModeLive
		c.remote = NewSalesforceClient(creds)
	}
	return c
}

// Mode reports whether the client is live or mock.
func (c *CopadoClient) Mode() Mode {
	return c.mode
}

// ListUserStories returns user stories, optionally filtered by status.
func (c *CopadoClient) ListUserStories(ctx context.Context, status string) ([]UserStory, error) {
	if c.mode == ModeMock {
		return c.store.UserStories(ctx, status)
	}

	stories, err := c.queryUserStories(ctx, status)
	if err != nil {
		c.logger.Warn("failed to fetch user stories, falling back to mock", "status", status, "error", err)
		return c.store.UserStories(ctx, status)
	}
	return stories, nil
}

func (c *CopadoClient) queryUserStories(ctx context.Context, status string) ([]UserStory, error) {
	soql := "SELECT Id, Name, copado__User_Story_Title__c, copado__Status__c, copado__Priority__c, copado__Project__r.Name FROM " + sobjectUserStory
	if status != "" {
		soql += " WHERE " + fieldStatus + " = " + soqlQuote(status)
	}

	records, err := c.remote.Query(ctx, soql)
	if err != nil {
		return nil, err
	}

	stories := make([]UserStory, 0, len(records))
	for _, r := range records {
		id := r.Get("Id").String()
		if id == "" {
			return nil, transportError("map user story", fmt.Errorf("record has no Id"))
		}
		stories = append(stories, UserStory{
			ID:       id,
			Name:     r.Get("Name").String(),
			Title:    r.Get("copado__User_Story_Title__c").String(),
			Status:   r.Get(fieldStatus).String(),
			Priority: r.Get("copado__Priority__c").String(),
			Project:  r.Get("copado__Project__r.Name").String(),
		})
	}
	return stories, nil
}

// ListPromotions returns all promotions.
func (c *CopadoClient) ListPromotions(ctx context.Context) ([]Promotion, error) {
	if c.mode == ModeMock {
		return c.store.Promotions(ctx)
	}

	promotions, err := c.queryPromotions(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch promotions, falling back to mock", "error", err)
		return c.store.Promotions(ctx)
	}
	return promotions, nil
}

func (c *CopadoClient) queryPromotions(ctx context.Context) ([]Promotion, error) {
	soql := "SELECT Id, Name, copado__Status__c, copado__Source_Environment__r.Name, copado__Destination_Environment__r.Name, CreatedDate FROM " + sobjectPromotion

	records, err := c.remote.Query(ctx, soql)
	if err != nil {
		return nil, err
	}

	promotions := make([]Promotion, 0, len(records))
	for _, r := range records {
		id := r.Get("Id").String()
		if id == "" {
			return nil, transportError("map promotion", fmt.Errorf("record has no Id"))
		}
		promotions = append(promotions, Promotion{
			ID:          id,
			Name:        r.Get("Name").String(),
			Status:      r.Get(fieldStatus).String(),
			SourceEnv:   r.Get("copado__Source_Environment__r.Name").String(),
			TargetEnv:   r.Get("copado__Destination_Environment__r.Name").String(),
			UserStories: []string{},
			CreatedAt:   remoteTimestamp(r.Get("CreatedDate")),
		})
	}
	return promotions, nil
}

// CreatePromotion creates a Draft promotion moving userStoryIDs from
// sourceEnv to targetEnv. Unknown environments are validation errors and are
// never masked by the fallback.
func (c *CopadoClient) CreatePromotion(ctx context.Context, sourceEnv, targetEnv string, userStoryIDs []string) (*Promotion, error) {
	if sourceEnv == "" || targetEnv == "" {
		return nil, validationError("", "source_env and target_env are required")
	}
	if userStoryIDs == nil {
		userStoryIDs = []string{}
	}

	if c.mode == ModeMock {
		return c.createMockPromotion(ctx, sourceEnv, targetEnv, userStoryIDs)
	}

	p, err := c.createRemotePromotion(ctx, sourceEnv, targetEnv, userStoryIDs)
	if err == nil {
		return p, nil
	}
	if IsValidation(err) {
		return nil, err
	}
	c.logger.Warn("failed to create promotion remotely, falling back to mock",
		"source_env", sourceEnv, "target_env", targetEnv, "error", err)
	return c.createMockPromotion(ctx, sourceEnv, targetEnv, userStoryIDs)
}

func (c *CopadoClient) createMockPromotion(ctx context.Context, sourceEnv, targetEnv string, userStoryIDs []string) (*Promotion, error) {
	envs, err := c.store.Environments(ctx)
	if err != nil {
		return nil, err
	}
	if !containsString(envs, sourceEnv) || !containsString(envs, targetEnv) {
		return nil, validationError("", "Invalid environment. Available: [%s]", strings.Join(envs, ", "))
	}

	id, err := c.newPromotionID(ctx)
	if err != nil {
		return nil, err
	}

	p := Promotion{
		ID:          id,
		SourceEnv:   sourceEnv,
		TargetEnv:   targetEnv,
		Status:      StatusDraft,
		UserStories: append([]string{}, userStoryIDs...),
		CreatedAt:   c.now().UTC().Format(timestampLayout),
	}
	if err := c.store.AppendPromotion(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *CopadoClient) createRemotePromotion(ctx context.Context, sourceEnv, targetEnv string, userStoryIDs []string) (*Promotion, error) {
	soql := fmt.Sprintf("SELECT Id, Name FROM %s WHERE Name IN (%s, %s)",
		sobjectEnvironment, soqlQuote(sourceEnv), soqlQuote(targetEnv))
	records, err := c.remote.Query(ctx, soql)
	if err != nil {
		return nil, err
	}

	envIDs := make(map[string]string, len(records))
	for _, r := range records {
		envIDs[r.Get("Name").String()] = r.Get("Id").String()
	}
	sourceID, targetID := envIDs[sourceEnv], envIDs[targetEnv]
	if sourceID == "" || targetID == "" {
		return nil, validationError("", "Could not find environment IDs for %s or %s", sourceEnv, targetEnv)
	}

	promotionID, err := c.remote.Create(ctx, sobjectPromotion, map[string]interface{}{
		fieldSourceEnv:      sourceID,
		fieldDestinationEnv: targetID,
		fieldStatus:         StatusDraft,
	})
	if err != nil {
		return nil, err
	}

	// Each link is independent; one failure does not stop the rest.
	for _, usID := range userStoryIDs {
		_, err := c.remote.Create(ctx, sobjectPromotedUserStory, map[string]interface{}{
			fieldPromotion: promotionID,
			fieldUserStory: usID,
		})
		if err != nil {
			c.logger.Warn("failed to link user story to promotion",
				"promotion_id", promotionID, "user_story_id", usID, "error", err)
		}
	}

	return &Promotion{
		ID:          promotionID,
		SourceEnv:   sourceEnv,
		TargetEnv:   targetEnv,
		Status:      StatusDraft,
		UserStories: append([]string{}, userStoryIDs...),
		CreatedAt:   c.now().UTC().Format(timestampLayout),
	}, nil
}

// DeployPromotion marks a promotion Completed. In live mode a remote failure
// is reported in the result instead of touching the fixture.
func (c *CopadoClient) DeployPromotion(ctx context.Context, promotionID string) (*DeployResult, error) {
	if promotionID == "" {
		return nil, validationError("", "promotion_id is required")
	}

	if c.mode == ModeMock {
		p, err := c.store.SetPromotionStatus(ctx, promotionID, StatusCompleted)
		if err != nil {
			return nil, err
		}
		return &DeployResult{Status: DeploySuccess, Promotion: p}, nil
	}

	err := c.remote.Update(ctx, sobjectPromotion, promotionID, map[string]interface{}{
		fieldStatus: StatusCompleted,
	})
	if err != nil {
		c.logger.Error("failed to deploy promotion", "promotion_id", promotionID, "error", err)
		return &DeployResult{Status: DeployError, Message: err.Error()}, nil
	}
	return &DeployResult{
		ID:      promotionID,
		Status:  StatusCompleted,
		Message: "Promotion status updated in Salesforce",
	}, nil
}

// newPromotionID returns a P-XXXX id not yet present in the store.
func (c *CopadoClient) newPromotionID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		hex := strings.ReplaceAll(uuid.NewString(), "-", "")
		id := "P-" + strings.ToUpper(hex[:promotionIDHexDigits])

		_, err := c.store.FindPromotion(ctx, id)
		if IsNotFound(err) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to generate a unique promotion id after %d attempts", maxIDAttempts)
}

// soqlQuote renders s as a SOQL string literal.
func soqlQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// remoteTimestamp converts a Salesforce datetime to UTC with a trailing Z.
func remoteTimestamp(v gjson.Result) string {
	raw := v.String()
	if raw == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02T15:04:05.000-0700", raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format(time.RFC3339)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
