package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/service"
)

const (
	defaultPollSeconds = 5
	maxPollSeconds     = 25
)

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: %d", e.StatusCode)
	}
	return e.Message
}

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Long enough for the longest poll.
			Timeout: (maxPollSeconds + 10) * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Game Hub",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Game Hub - MCP Interface

This is a thin client that proxies all requests to the REST API server.

The hub stores game sessions. Each session holds a JSON document with the
players, the game data, and whether the state may be undone. Every accepted
change is broadcast to the session's players.

AVAILABLE TOOLS:
- create_session: Create a session from data or a template
- get_session / list_sessions / delete_session: Inspect and manage sessions
- list_templates: List seed templates
- push_state: Store the next state of a session
- undo / redo: Move through a session's history
- reload_session: Replace a session with its last persisted copy
- connect / disconnect: Open or close a subscriber mailbox
- poll_messages: Wait for the next message for a subscriber
- invite: Invite another subscriber to a session
- hub_instructions: Detailed usage notes`),
	)

	// Register all tools
	c.registerTools()
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func sessionOnlySchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"session_id": stringProp("Session ID"),
		},
		Required: []string{"session_id"},
	}
}

func subscriberOnlySchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"subscriber_id": stringProp("Subscriber ID"),
		},
		Required: []string{"subscriber_id"},
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	playersProp := map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "Subscriber ids that receive this session's updates",
	}

	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new game session. Without data the session starts from a template.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session ID (optional, generated when empty)"),
				"template":   stringProp("Template ID to seed the session from (optional)"),
				"players":    playersProp,
				"data": map[string]interface{}{
					"type":        "object",
					"description": "Initial game data (optional)",
				},
				"can_undo": map[string]interface{}{
					"type":        "boolean",
					"description": "Whether the initial state may be undone",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active game sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get the current state of a session",
		InputSchema: sessionOnlySchema(),
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_session",
		Description: "Delete a session from memory",
		InputSchema: sessionOnlySchema(),
	}, c.handleDeleteSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reload_session",
		Description: "Replace a session with its last persisted copy and notify its players",
		InputSchema: sessionOnlySchema(),
	}, c.handleReloadSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_templates",
		Description: "List the templates new sessions can start from",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListTemplates)

	// History
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "push_state",
		Description: "Store the next state of a session and broadcast it to the players",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": stringProp("Session ID"),
				"data": map[string]interface{}{
					"type":        "object",
					"description": "The new game data",
				},
				"players": playersProp,
				"can_undo": map[string]interface{}{
					"type":        "boolean",
					"description": "Whether this state may be undone",
				},
				"terminal": map[string]interface{}{
					"type":        "boolean",
					"description": "Marks the game as finished; later pushes are rejected",
				},
			},
			Required: []string{"session_id", "data"},
		},
	}, c.handlePushState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "undo",
		Description: "Undo the current state of a session",
		InputSchema: sessionOnlySchema(),
	}, c.handleUndo)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "redo",
		Description: "Redo the most recently undone state of a session",
		InputSchema: sessionOnlySchema(),
	}, c.handleRedo)

	// Subscribers
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "connect",
		Description: "Open a mailbox for a subscriber",
		InputSchema: subscriberOnlySchema(),
	}, c.handleConnect)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "disconnect",
		Description: "Close a subscriber's mailbox, dropping undelivered messages",
		InputSchema: subscriberOnlySchema(),
	}, c.handleDisconnect)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "poll_messages",
		Description: "Wait for the next message for a subscriber",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"subscriber_id": stringProp("Subscriber ID"),
				"timeout_seconds": map[string]interface{}{
					"type":        "number",
					"description": fmt.Sprintf("How long to wait (default %d, max %d)", defaultPollSeconds, maxPollSeconds),
				},
			},
			Required: []string{"subscriber_id"},
		},
	}, c.handlePollMessages)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "invite",
		Description: "Invite another subscriber to a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"from":       stringProp("Inviting subscriber ID"),
				"to":         stringProp("Invited subscriber ID"),
				"session_id": stringProp("Session ID (optional)"),
			},
			Required: []string{"from", "to"},
		},
	}, c.handleInvite)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "hub_instructions",
		Description: "Get detailed instructions for using the game hub",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleHubInstructions)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall makes an HTTP call to the REST API. A 204 answer leaves result
// untouched.
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// arguments returns the tool arguments, tolerating a missing or mistyped map.
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func requireString(args map[string]interface{}, key string) (string, *mcp.CallToolResult) {
	v, _ := args[key].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", mcp.NewToolResultError(fmt.Sprintf("%s is required", key))
	}
	return v, nil
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// rawJSON re-encodes an argument so it can travel as json.RawMessage.
func rawJSON(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	return json.Marshal(v)
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	id, _ := args["session_id"].(string)
	template, _ := args["template"].(string)
	canUndo, _ := args["can_undo"].(bool)

	data, err := rawJSON(args["data"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid data: %v", err)), nil
	}

	body := service.CreateSessionRequest{
		ID:       id,
		Template: template,
		Players:  stringSlice(args["players"]),
		Data:     data,
		CanUndo:  canUndo,
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Created session\n" + formatSessionInfo(&session)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                    `json:"count"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No active sessions"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active sessions (%d):\n", response.Count)
	for _, s := range response.Sessions {
		fmt.Fprintf(&b, "- %s seq=%d players=%s undo=%t redo=%t", s.ID, s.Seq, strings.Join(s.Players, ","), s.CanUndo, s.CanRedo)
		if s.Terminal {
			b.WriteString(" [finished]")
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errResult := requireString(arguments(request), "session_id")
	if errResult != nil {
		return errResult, nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleDeleteSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errResult := requireString(arguments(request), "session_id")
	if errResult != nil {
		return errResult, nil
	}

	if err := c.apiCall(ctx, "DELETE", "/api/sessions/"+url.PathEscape(sessionID), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %s deleted", sessionID)), nil
}

func (c *Client) handleReloadSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.mutate(ctx, request, "reload")
}

func (c *Client) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var templates []*config.TemplateInfo
	if err := c.apiCall(ctx, "GET", "/api/templates", nil, &templates); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(templates) == 0 {
		return mcp.NewToolResultText("No templates available"), nil
	}

	var b strings.Builder
	b.WriteString("Available templates:\n")
	for _, t := range templates {
		fmt.Fprintf(&b, "- %s: %s", t.TemplateID, t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, " (%s)", t.Description)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handlePushState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, errResult := requireString(args, "session_id")
	if errResult != nil {
		return errResult, nil
	}
	if args["data"] == nil {
		return mcp.NewToolResultError("data is required"), nil
	}
	data, err := rawJSON(args["data"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid data: %v", err)), nil
	}
	canUndo, _ := args["can_undo"].(bool)
	terminal, _ := args["terminal"].(bool)

	body := service.PushRequest{
		Data:     data,
		CanUndo:  canUndo,
		Terminal: terminal,
	}
	if _, ok := args["players"]; ok {
		body.Players = stringSlice(args["players"])
	}

	var result service.MutationResult
	if err := c.apiCall(ctx, "POST", "/api/sessions/"+url.PathEscape(sessionID)+"/state", body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatMutationResult("push", &result)), nil
}

func (c *Client) handleUndo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.mutate(ctx, request, "undo")
}

func (c *Client) handleRedo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.mutate(ctx, request, "redo")
}

// mutate runs a body-less session operation: undo, redo or reload.
func (c *Client) mutate(ctx context.Context, request mcp.CallToolRequest, op string) (*mcp.CallToolResult, error) {
	sessionID, errResult := requireString(arguments(request), "session_id")
	if errResult != nil {
		return errResult, nil
	}

	var result service.MutationResult
	if err := c.apiCall(ctx, "POST", "/api/sessions/"+url.PathEscape(sessionID)+"/"+op, nil, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatMutationResult(op, &result)), nil
}

func (c *Client) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subscriberID, errResult := requireString(arguments(request), "subscriber_id")
	if errResult != nil {
		return errResult, nil
	}

	if err := c.apiCall(ctx, "POST", "/api/subscribers/"+url.PathEscape(subscriberID), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Subscriber %s connected. Use poll_messages to receive updates.", subscriberID)), nil
}

func (c *Client) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subscriberID, errResult := requireString(arguments(request), "subscriber_id")
	if errResult != nil {
		return errResult, nil
	}

	if err := c.apiCall(ctx, "DELETE", "/api/subscribers/"+url.PathEscape(subscriberID), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Subscriber %s disconnected", subscriberID)), nil
}

func (c *Client) handlePollMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	subscriberID, errResult := requireString(args, "subscriber_id")
	if errResult != nil {
		return errResult, nil
	}

	seconds := float64(defaultPollSeconds)
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		seconds = min(v, maxPollSeconds)
	}

	path := fmt.Sprintf("/api/subscribers/%s/poll?timeout=%gs", url.PathEscape(subscriberID), seconds)
	var msg notify.Message
	if err := c.apiCall(ctx, "GET", path, nil, &msg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if msg.Kind == "" {
		return mcp.NewToolResultText(fmt.Sprintf("No messages for %s after %gs", subscriberID, seconds)), nil
	}
	return mcp.NewToolResultText(formatMessage(msg)), nil
}

func (c *Client) handleInvite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	from, errResult := requireString(args, "from")
	if errResult != nil {
		return errResult, nil
	}
	to, errResult := requireString(args, "to")
	if errResult != nil {
		return errResult, nil
	}
	sessionID, _ := args["session_id"].(string)

	body := service.InviteRequest{From: from, To: to, SessionID: sessionID}
	if err := c.apiCall(ctx, "POST", "/api/invites", body, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Invite sent from %s to %s", from, to)), nil
}

func (c *Client) handleHubInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `Game Hub - Instructions

SESSIONS:
A session stores the history of one game. Its current state is a JSON
document:
  {"players": ["alice", "bob"], "data": {...}, "can_undo": true, "terminal": false}

- players: subscriber ids that receive the session's updates
- data: anything the game needs; the hub never interprets it
- can_undo: whether this state may be taken back
- terminal: the game is over; further pushes are rejected

HISTORY:
- push_state stores a new state. It clears anything that could be redone.
  Omit players to keep the current list.
- undo returns to the previous state, but only when the current state has
  can_undo set and there is an earlier state.
- redo re-applies the most recently undone state.
- Every state keeps the sequence number it was pushed with.

NOTIFICATIONS:
1. connect with a subscriber id to open a mailbox.
2. poll_messages waits for the next message. Messages arrive in order.
3. Message kinds:
   - game_update: a session changed (seq, can_undo, can_redo, state)
   - players_changed: a session's player list changed
   - invite: someone invited you to a session
   - error: a request you made over a live connection failed
4. A full mailbox rejects new messages; the sender sees the failure in the
   "failed" list of its result. Poll regularly.
5. disconnect drops anything still queued.

TYPICAL FLOW:
1. connect alice, connect bob
2. create_session with players ["alice", "bob"]
3. push_state after each move
4. poll_messages for each player to observe the updates
5. undo / redo as the game allows`

	return mcp.NewToolResultText(instructions), nil
}

// Formatting helpers

func formatSessionInfo(session *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", session.ID)
	fmt.Fprintf(&b, "Seq: %d  Hash: %s\n", session.Seq, session.Hash)
	fmt.Fprintf(&b, "Players: %s\n", strings.Join(session.Players, ", "))
	fmt.Fprintf(&b, "History: %d undo / %d redo (can undo: %t, can redo: %t)\n",
		session.UndoDepth, session.RedoDepth, session.CanUndo, session.CanRedo)
	if session.Terminal {
		b.WriteString("Status: GAME OVER\n")
	}
	if len(session.Data) > 0 {
		b.WriteString("Data:\n")
		b.WriteString(indentJSON(session.Data))
		b.WriteString("\n")
	}
	return b.String()
}

func formatMutationResult(op string, result *service.MutationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %s applied\n", op)
	if result.Session != nil {
		b.WriteString(formatSessionInfo(result.Session))
	}
	if len(result.Notified) > 0 {
		fmt.Fprintf(&b, "Notified: %s\n", strings.Join(result.Notified, ", "))
	}
	for _, f := range result.Failed {
		fmt.Fprintf(&b, "✗ not delivered to %s (%s)\n", f.SubscriberID, f.Reason)
	}
	return b.String()
}

func formatMessage(msg notify.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message: %s\n", msg.Kind)

	switch msg.Kind {
	case notify.KindGameUpdate:
		fmt.Fprintf(&b, "Session: %s  Seq: %d  can undo: %t  can redo: %t\n", msg.SessionID, msg.Seq, msg.CanUndo, msg.CanRedo)
		if len(msg.State) > 0 {
			b.WriteString(indentJSON(msg.State))
			b.WriteString("\n")
		}
	case notify.KindPlayersChanged:
		fmt.Fprintf(&b, "Session: %s  Players: %s\n", msg.SessionID, strings.Join(msg.Players, ", "))
	case notify.KindInvite:
		if msg.Invite != nil {
			fmt.Fprintf(&b, "%s invited %s", msg.Invite.From, msg.Invite.To)
			if msg.Invite.SessionID != "" {
				fmt.Fprintf(&b, " to session %s", msg.Invite.SessionID)
			}
			b.WriteString("\n")
		}
	case notify.KindError:
		if msg.Error != nil {
			fmt.Fprintf(&b, "Error %d: %s\n", msg.Error.StatusCode, msg.Error.Message)
		}
	}
	return b.String()
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
