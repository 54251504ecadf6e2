package main

import (
	"encoding/json"
)

// MCP protocol types
type MCPMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no id.
func (m *MCPMessage) IsNotification() bool {
	return len(m.ID) == 0
}

// MCPResponse is exactly one of Result or Error.
type MCPResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

type InitializeResponse struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Copado data structures
type UserStory struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Project     string `json:"project"`
	Description string `json:"description,omitempty"`
}

type Promotion struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Status      string   `json:"status"`
	SourceEnv   string   `json:"source_env"`
	TargetEnv   string   `json:"target_env"`
	UserStories []string `json:"user_stories"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

// Promotion statuses
const (
	StatusDraft     = "Draft"
	StatusCompleted = "Completed"
)

// DeployResult is returned by deploy_promotion.
type DeployResult struct {
	ID        string     `json:"id,omitempty"`
	Status    string     `json:"status"`
	Promotion *Promotion `json:"promotion,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// Deploy result statuses
const (
	DeploySuccess = "Success"
	DeployError   = "Error"
)
