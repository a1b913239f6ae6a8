// Package agent drives one conversational turn to completion: it sends the
// session history and the currently unlocked tool declarations to the model,
// executes at most one function call per round, and loops until the model
// produces a final answer or the depth bound is hit.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cabswale/raahi-agent/internal/clients"
	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/knowledge"
	"github.com/cabswale/raahi-agent/internal/model"
	"github.com/cabswale/raahi-agent/internal/session"
	"github.com/cabswale/raahi-agent/internal/tool"
)

// MaxDepth bounds the number of model rounds per turn. Hitting it forces the
// canned too-many-steps reply instead of looping forever.
const MaxDepth = 15

// Framework tool names, always declared to the model.
const (
	ToolFetchKnowledgeBase = "fetchKnowledgeBase"
	ToolFetchFeaturePrompt = "fetchFeaturePrompt"
	ToolOpenScreen         = "openScreen"
	ToolRespond            = "respond"
)

// ActionNone is the UI action emitted when no feature resolved one.
const ActionNone = "none"

const (
	noModelResponse       = "no response from model"
	tooManyStepsResponse  = "Sorry, main yeh request abhi poora nahi kar paya. Thoda simple karke dobara boliye."
	defaultKnowledgeTopK  = 3
	analyticsTimeout      = 10 * time.Second
	postProcessorFindDuty = "find_duties"
)

// Generator produces one model round. Implemented by model.Gemini.
type Generator interface {
	Generate(ctx context.Context, req model.Request) (*model.Response, error)
}

// KnowledgeSearcher resolves a free-text query to knowledge base entries.
type KnowledgeSearcher interface {
	Query(ctx context.Context, queryText string, topK int) ([]knowledge.Result, error)
}

// SessionSaver persists session state between rounds.
type SessionSaver interface {
	Save(ctx context.Context, sess *session.Session) error
}

// TripSearcher finds open trips and leads for a route.
type TripSearcher interface {
	SearchTrips(ctx context.Context, q clients.SearchQuery) ([]map[string]any, error)
	SearchLeads(ctx context.Context, q clients.SearchQuery) ([]map[string]any, error)
}

// Geocoder resolves a city to coordinates and a country code.
type Geocoder interface {
	Locate(ctx context.Context, city string) (session.Location, string, error)
}

// FraudChecker resolves a phone number to a rating key and raw payload.
type FraudChecker interface {
	CheckRating(ctx context.Context, phone string) (string, map[string]any, error)
}

// OTPVerifier checks a one-time password for a driver.
type OTPVerifier interface {
	Verify(ctx context.Context, driverID, otp string) (bool, string, error)
}

// AnalyticsLogger records completed turns. Failures are swallowed.
type AnalyticsLogger interface {
	LogIntent(ctx context.Context, ev clients.IntentEvent) error
}

// Action is the UI action resolved for a turn.
type Action struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Result is what one completed turn hands back to the transport layer.
type Result struct {
	ResponseText string
	Action       Action
	Screen       string
	AudioKey     string
}

// Config holds loop tuning knobs.
type Config struct {
	// BasePrompt is the persona and workflow instruction block prepended to
	// every system prompt.
	BasePrompt string

	// MaxDepth overrides the default round bound when positive.
	MaxDepth int

	// KnowledgeTopK is how many knowledge entries a lookup returns.
	KnowledgeTopK int
}

// Deps are the loop's collaborators. Generator, Registry and Executor are
// required; the rest may be nil and the corresponding capability degrades to
// a textual error or a no-op.
type Deps struct {
	Generator Generator
	Registry  *feature.Registry
	Executor  *tool.Executor
	Sessions  SessionSaver
	Knowledge KnowledgeSearcher
	Trips     TripSearcher
	Geocoder  Geocoder
	Fraud     FraudChecker
	OTP       OTPVerifier
	Analytics AnalyticsLogger
}

// Loop runs the bounded tool-calling protocol.
//
// Loop is safe for concurrent use across sessions. Turns within one session
// must be serialized by the caller.
type Loop struct {
	gen       Generator
	registry  *feature.Registry
	exec      *tool.Executor
	sessions  SessionSaver
	knowledge KnowledgeSearcher
	trips     TripSearcher
	geocoder  Geocoder
	fraud     FraudChecker
	otp       OTPVerifier
	analytics AnalyticsLogger

	basePrompt string
	maxDepth   int
	topK       int
	logger     *slog.Logger
	postProcs  map[string]PostProcessor
}

// BaseTools is the tool set every fresh session starts with.
func BaseTools() []string {
	return []string{ToolFetchKnowledgeBase, ToolFetchFeaturePrompt, ToolOpenScreen}
}

// NewLoop wires the loop and registers its builtin handlers on the executor.
func NewLoop(cfg Config, deps Deps, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = MaxDepth
	}
	if cfg.KnowledgeTopK <= 0 {
		cfg.KnowledgeTopK = defaultKnowledgeTopK
	}
	l := &Loop{
		gen:        deps.Generator,
		registry:   deps.Registry,
		exec:       deps.Executor,
		sessions:   deps.Sessions,
		knowledge:  deps.Knowledge,
		trips:      deps.Trips,
		geocoder:   deps.Geocoder,
		fraud:      deps.Fraud,
		otp:        deps.OTP,
		analytics:  deps.Analytics,
		basePrompt: cfg.BasePrompt,
		maxDepth:   cfg.MaxDepth,
		topK:       cfg.KnowledgeTopK,
		logger:     logger.With("component", "agent"),
	}
	l.registerHandlers()
	l.postProcs = map[string]PostProcessor{
		postProcessorFindDuty: l.findDuties,
	}
	return l
}

// Run executes one turn. The user's message is appended to the session
// history before the first model round; the mutated session is persisted
// after every round. Expected external failures (model errors, tool errors)
// are absorbed into textual responses; only context cancellation is returned
// as an error.
func (l *Loop) Run(ctx context.Context, sess *session.Session, userText string) (*Result, error) {
	snap := l.registry.Snapshot()
	sess.AppendText(session.RoleUser, userText)

	res := &Result{Action: Action{Data: map[string]any{}}}
	postProcessor := ""

	for depth := 0; depth < l.maxDepth; depth++ {
		resp, err := l.gen.Generate(ctx, model.Request{
			System:  l.systemPrompt(sess),
			History: sess.History,
			Tools:   l.declarations(snap, sess),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Error("model call failed", "session", sess.ID, "depth", depth, "error", err)
			res.ResponseText = noModelResponse
			if res.Action.Type == "" {
				res.Action.Type = ActionNone
			}
			l.persist(ctx, sess)
			return l.finish(ctx, sess, userText, res, ""), nil
		}

		if resp.Call == nil {
			if resp.Text == "" {
				res.ResponseText = noModelResponse
				res.Action.Type = ActionNone
				l.persist(ctx, sess)
				return l.finish(ctx, sess, userText, res, ""), nil
			}
			// Final answer for the turn.
			res.ResponseText = resp.Text
			postProcessor = l.resolveAction(snap, sess, res, nil)
			sess.AppendText(session.RoleModel, resp.Text)
			sess.MatchedAction = nil
			l.persist(ctx, sess)
			return l.finish(ctx, sess, userText, res, postProcessor), nil
		}

		call := resp.Call
		sess.Append(session.Turn{
			Role:  session.RoleModel,
			Parts: []session.Part{{FunctionCall: call}},
		})

		if call.Name == ToolRespond {
			res.ResponseText = resp.Text
			postProcessor = l.resolveAction(snap, sess, res, call.Args)
			sess.Append(session.Turn{
				Role: session.RoleFunction,
				Parts: []session.Part{{FunctionResponse: &session.FunctionResponse{
					Name:     ToolRespond,
					Response: map[string]any{"result": "acknowledged"},
				}}},
			})
			sess.MatchedAction = nil
			l.persist(ctx, sess)
			return l.finish(ctx, sess, userText, res, postProcessor), nil
		}

		out := l.exec.Execute(ctx, snap, call.Name, call.Args, sess)
		sess.Append(session.Turn{
			Role: session.RoleFunction,
			Parts: []session.Part{{FunctionResponse: &session.FunctionResponse{
				Name:     call.Name,
				Response: map[string]any{"result": out.Message},
			}}},
		})
		mergeOutcome(res, out)
		l.persist(ctx, sess)
	}

	l.logger.Warn("depth bound reached", "session", sess.ID, "maxDepth", l.maxDepth)
	res.ResponseText = tooManyStepsResponse
	if res.Action.Type == "" {
		res.Action.Type = ActionNone
	}
	sess.MatchedAction = nil
	sess.AppendText(session.RoleModel, tooManyStepsResponse)
	l.persist(ctx, sess)
	return l.finish(ctx, sess, userText, res, ""), nil
}

// declarations builds the tool set visible to the model this round:
// framework tools, the session's unlocked feature tools, and the synthetic
// respond tool whose action enum is scoped to the matched feature.
func (l *Loop) declarations(snap *feature.Snapshot, sess *session.Session) []model.Declaration {
	decls := frameworkDeclarations()
	framework := map[string]struct{}{
		ToolFetchKnowledgeBase: {},
		ToolFetchFeaturePrompt: {},
		ToolOpenScreen:         {},
	}
	for _, name := range sess.ActiveTools {
		if _, ok := framework[name]; ok {
			continue
		}
		decl, ok := snap.GetToolDeclaration(name)
		if !ok {
			continue
		}
		decls = append(decls, model.Declaration{
			Name:        name,
			Description: decl.Description,
			Parameters:  decl.Parameters,
		})
	}
	if c := sess.MatchedAction; c != nil {
		decls = append(decls, respondDeclaration(c))
	}
	return decls
}

func frameworkDeclarations() []model.Declaration {
	return []model.Declaration{
		{
			Name:        ToolFetchKnowledgeBase,
			Description: "Look up the knowledge base to find which feature or information matches the driver's request. Call this on the first message of a session or when the topic changes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The driver's request, rephrased as a short search query.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        ToolFetchFeaturePrompt,
			Description: "Load a feature's instructions and unlock its tools. Call this after the knowledge base matched a feature.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"featureName": map[string]any{
						"type":        "string",
						"description": "Name of the feature to load.",
					},
				},
				"required": []string{"featureName"},
			},
		},
		{
			Name:        ToolOpenScreen,
			Description: "Navigate the app to a named screen.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"screen": map[string]any{
						"type":        "string",
						"description": "Screen identifier to open.",
					},
				},
				"required": []string{"screen"},
			},
		},
	}
}

// respondDeclaration builds the terminal respond tool. Its action enum is
// exactly the matched feature's actions, which keeps the model from emitting
// an unregistered UI action.
func respondDeclaration(c *session.ActionConstraint) model.Declaration {
	dataSchema := c.DataSchema
	if dataSchema == nil {
		dataSchema = map[string]any{"type": "object"}
	}
	return model.Declaration{
		Name:        ToolRespond,
		Description: fmt.Sprintf("Send the final answer for the %s flow, picking one of its allowed UI actions.", c.FeatureName),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": c.Actions,
				},
				"response_text": map[string]any{
					"type":        "string",
					"description": "The spoken reply for the driver, in Hinglish.",
				},
				"data": dataSchema,
			},
			"required": []string{"action", "response_text"},
		},
	}
}

// resolveAction fills res.Action from the respond call args (when present)
// or from the matched constraint's default, and returns the post-processor
// name of the feature that owned the action, if any.
func (l *Loop) resolveAction(snap *feature.Snapshot, sess *session.Session, res *Result, args map[string]any) string {
	c := sess.MatchedAction
	if args != nil {
		if text := argString(args, "response_text"); text != "" {
			res.ResponseText = text
		}
		action := argString(args, "action")
		if c != nil && !containsString(c.Actions, action) {
			action = c.DefaultAction
		}
		if action != "" {
			res.Action.Type = action
		}
		if data, ok := args["data"].(map[string]any); ok {
			for k, v := range data {
				res.Action.Data[k] = v
			}
		}
	}
	if res.Action.Type == "" {
		if c != nil {
			res.Action.Type = c.DefaultAction
		} else {
			res.Action.Type = ActionNone
		}
	}
	owner := sess.ActiveFeature
	if c != nil && c.FeatureName != "" {
		owner = c.FeatureName
	}
	if owner == "" {
		return ""
	}
	f, ok := snap.GetFeature(owner)
	if !ok {
		return ""
	}
	if res.AudioKey == "" {
		if key, ok := f.AudioMappings[res.Action.Type]; ok {
			res.AudioKey = key
		}
	}
	return f.PostProcessor
}

// finish runs the owning feature's post-processor and fires analytics.
func (l *Loop) finish(ctx context.Context, sess *session.Session, userText string, res *Result, postProcessor string) *Result {
	if postProcessor != "" {
		if proc, ok := l.postProcs[postProcessor]; ok {
			proc(ctx, sess, res)
		} else {
			l.logger.Warn("unknown post-processor", "name", postProcessor)
		}
	}
	l.logAnalytics(ctx, sess, userText, res)
	return res
}

func (l *Loop) persist(ctx context.Context, sess *session.Session) {
	if l.sessions == nil {
		return
	}
	if err := l.sessions.Save(ctx, sess); err != nil {
		l.logger.Error("session save failed", "session", sess.ID, "error", err)
	}
}

// logAnalytics fires an intent event in the background. The event outlives
// the request context.
func (l *Loop) logAnalytics(ctx context.Context, sess *session.Session, userText string, res *Result) {
	if l.analytics == nil {
		return
	}
	ev := clients.IntentEvent{
		SessionID:        sess.ID,
		QueryText:        userText,
		Intent:           l.registry.GetIntentForAction(res.Action.Type),
		InteractionCount: len(sess.History),
		PickupCity:       dataString(res.Action.Data, "pickup_city"),
		DropCity:         dataString(res.Action.Data, "drop_city"),
	}
	if sess.DriverProfile != nil {
		ev.DriverID = sess.DriverProfile.ID
	}
	go func() {
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analyticsTimeout)
		defer cancel()
		if err := l.analytics.LogIntent(bgCtx, ev); err != nil {
			l.logger.Warn("analytics log failed", "session", ev.SessionID, "error", err)
		}
	}()
}

func mergeOutcome(res *Result, out tool.Outcome) {
	if out.UIAction != "" {
		res.Action.Type = out.UIAction
	}
	if out.Screen != "" {
		res.Screen = out.Screen
	}
	if out.AudioKey != "" {
		res.AudioKey = out.AudioKey
	}
	for k, v := range out.Data {
		res.Action.Data[k] = v
	}
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func dataString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
