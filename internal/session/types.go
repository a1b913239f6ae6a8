// Package session holds per-conversation state and its persistence.
//
// The fast path is Redis with a TTL; a Postgres row serves as best-effort
// durable backup, written on a debounced schedule so rapid Save calls during
// an agent turn coalesce into one durable write.
package session

import (
	"time"
)

// Turn roles. History alternates between user input, model output and
// function (tool) results.
const (
	RoleUser     = "user"
	RoleModel    = "model"
	RoleFunction = "function"
)

// MaxHistoryTurns bounds conversation history growth. Older turns are dropped
// from the head once the window is full; truncation never leaves a
// function-role turn first, so the model always sees the call that produced
// a result.
const MaxHistoryTurns = 40

// FunctionCall is a model request to invoke a named tool.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is one element of a turn: text, a function call, or a function
// response. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Turn is a single history entry.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ActionConstraint restricts the model's final structured answer to a
// feature's registered UI actions and data schema. Set by fetchFeaturePrompt,
// cleared after every completed turn.
type ActionConstraint struct {
	FeatureName   string         `json:"featureName"`
	Actions       []string       `json:"actions"`
	DefaultAction string         `json:"defaultAction"`
	DataSchema    map[string]any `json:"dataSchema,omitempty"`
}

// Location is a GPS coordinate supplied by the mobile app.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DriverProfile carries the caller-supplied driver context used to build the
// system prompt. Optional fields are pointers so "not provided" is
// distinguishable from a zero value; the prompt builder includes only
// non-nil fields.
type DriverProfile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Gender        string `json:"gender,omitempty"`
	City          string `json:"city,omitempty"`
	VehicleType   string `json:"vehicleType,omitempty"`
	VehicleNumber string `json:"vehicleNumber,omitempty"`

	ProfileVerified *bool `json:"profileVerified,omitempty"`
	AadhaarVerified *bool `json:"isAadhaarVerified,omitempty"`
	DLVerified      *bool `json:"isDLVerified,omitempty"`
	Fraud           *bool `json:"fraud,omitempty"`
	FraudReports    *int  `json:"fraudReports,omitempty"`

	IsPremium      *bool    `json:"isPremium,omitempty"`
	TotalEarnings  *float64 `json:"totalEarnings,omitempty"`
	ConfirmedTrips *int     `json:"confirmedTrips,omitempty"`
	CustomerCalls  *int     `json:"customerCalls,omitempty"`
	Connections    *int     `json:"connectionCount,omitempty"`

	Languages []string `json:"languages,omitempty"`
}

// Session is the durable per-conversation state.
type Session struct {
	ID string `json:"id"`

	History []Turn `json:"history"`

	// ActiveTools is the set of tool names the model may currently call,
	// beyond the framework tools. Starts as the base set; grows when a
	// feature loads; resets to the base set on topic change.
	ActiveTools []string `json:"activeTools"`

	// ActiveFeature names the feature flow in progress, or "" when none.
	ActiveFeature string `json:"activeFeature,omitempty"`

	// MatchedAction constrains the model's final structured answer while a
	// feature is loaded.
	MatchedAction *ActionConstraint `json:"matchedAction,omitempty"`

	UserData        map[string]any `json:"userData,omitempty"`
	DriverProfile   *DriverProfile `json:"driverProfile,omitempty"`
	CurrentLocation *Location      `json:"currentLocation,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New constructs an unsaved session with the given base tool set.
func New(id string, baseTools []string) *Session {
	now := time.Now().UTC()
	tools := make([]string, len(baseTools))
	copy(tools, baseTools)
	return &Session{
		ID:          id,
		History:     make([]Turn, 0, 8),
		ActiveTools: tools,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasTool reports whether name is in the active tool set.
func (s *Session) HasTool(name string) bool {
	for _, t := range s.ActiveTools {
		if t == name {
			return true
		}
	}
	return false
}

// AddTools adds names to the active tool set, skipping duplicates.
func (s *Session) AddTools(names ...string) {
	for _, n := range names {
		if !s.HasTool(n) {
			s.ActiveTools = append(s.ActiveTools, n)
		}
	}
}

// ResetTools replaces the active tool set with the given base set.
func (s *Session) ResetTools(baseTools []string) {
	s.ActiveTools = s.ActiveTools[:0]
	s.AddTools(baseTools...)
}

// Append adds a turn and enforces the history window.
func (s *Session) Append(turn Turn) {
	s.History = append(s.History, turn)
	s.truncateHistory()
}

// AppendText is shorthand for appending a single-text-part turn.
func (s *Session) AppendText(role, text string) {
	s.Append(Turn{Role: role, Parts: []Part{{Text: text}}})
}

func (s *Session) truncateHistory() {
	if len(s.History) <= MaxHistoryTurns {
		return
	}
	drop := len(s.History) - MaxHistoryTurns
	// Never start the window on a function result: widen the cut until the
	// first retained turn is a user or model turn.
	for drop < len(s.History) && s.History[drop].Role == RoleFunction {
		drop++
	}
	s.History = append(s.History[:0], s.History[drop:]...)
}

// MergeContext merges caller-supplied context non-destructively: only
// non-zero incoming fields overwrite existing state.
func (s *Session) MergeContext(userData map[string]any, profile *DriverProfile, loc *Location) {
	if len(userData) > 0 {
		if s.UserData == nil {
			s.UserData = make(map[string]any, len(userData))
		}
		for k, v := range userData {
			s.UserData[k] = v
		}
	}
	if profile != nil {
		if s.DriverProfile == nil {
			s.DriverProfile = &DriverProfile{}
		}
		s.DriverProfile.merge(profile)
	}
	if loc != nil {
		s.CurrentLocation = &Location{Latitude: loc.Latitude, Longitude: loc.Longitude}
	}
}

func (p *DriverProfile) merge(in *DriverProfile) {
	if in.ID != "" {
		p.ID = in.ID
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Phone != "" {
		p.Phone = in.Phone
	}
	if in.Gender != "" {
		p.Gender = in.Gender
	}
	if in.City != "" {
		p.City = in.City
	}
	if in.VehicleType != "" {
		p.VehicleType = in.VehicleType
	}
	if in.VehicleNumber != "" {
		p.VehicleNumber = in.VehicleNumber
	}
	if in.ProfileVerified != nil {
		p.ProfileVerified = in.ProfileVerified
	}
	if in.AadhaarVerified != nil {
		p.AadhaarVerified = in.AadhaarVerified
	}
	if in.DLVerified != nil {
		p.DLVerified = in.DLVerified
	}
	if in.Fraud != nil {
		p.Fraud = in.Fraud
	}
	if in.FraudReports != nil {
		p.FraudReports = in.FraudReports
	}
	if in.IsPremium != nil {
		p.IsPremium = in.IsPremium
	}
	if in.TotalEarnings != nil {
		p.TotalEarnings = in.TotalEarnings
	}
	if in.ConfirmedTrips != nil {
		p.ConfirmedTrips = in.ConfirmedTrips
	}
	if in.CustomerCalls != nil {
		p.CustomerCalls = in.CustomerCalls
	}
	if in.Connections != nil {
		p.Connections = in.Connections
	}
	if len(in.Languages) > 0 {
		p.Languages = in.Languages
	}
}
