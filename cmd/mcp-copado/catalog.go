package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolName is the closed set of tools this server exposes.
type ToolName int

const (
	ToolUnknown ToolName = iota
	ToolListUserStories
	ToolListPromotions
	ToolCreatePromotion
	ToolDeployPromotion
)

var toolNames = map[ToolName]string{
	ToolListUserStories: "list_user_stories",
	ToolListPromotions:  "list_promotions",
	ToolCreatePromotion: "create_promotion",
	ToolDeployPromotion: "deploy_promotion",
}

func (t ToolName) String() string {
	if name, ok := toolNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseToolName maps a wire name to a ToolName, ToolUnknown if unsupported.
func ParseToolName(name string) ToolName {
	for t, n := range toolNames {
		if n == name {
			return t
		}
	}
	return ToolUnknown
}

// toolCatalog returns the tool declarations in a fixed order.
func toolCatalog() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(
			ToolListUserStories.String(),
			mcp.WithDescription("List user stories from Copado"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithString("status",
				mcp.Description("Optional status filter"),
			),
		),
		mcp.NewTool(
			ToolListPromotions.String(),
			mcp.WithDescription("List all promotions"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
		),
		mcp.NewTool(
			ToolCreatePromotion.String(),
			mcp.WithDescription("Create a new promotion"),
			mcp.WithString("source_env",
				mcp.Description("Source environment name"),
				mcp.Required(),
			),
			mcp.WithString("target_env",
				mcp.Description("Target environment name"),
				mcp.Required(),
			),
			mcp.WithArray("user_story_ids",
				mcp.Description("User stories to include in the promotion"),
				mcp.WithStringItems(),
				mcp.Required(),
			),
		),
		mcp.NewTool(
			ToolDeployPromotion.String(),
			mcp.WithDescription("Deploy an existing promotion"),
			mcp.WithDestructiveHintAnnotation(true),
			mcp.WithString("promotion_id",
				mcp.Description("Promotion to deploy"),
				mcp.Required(),
			),
		),
	}
}
