package anthropic

// BuildCachedSystemBlocks wraps a stage's system prompt in a single block
// with an ephemeral cache breakpoint. Stage prompts are identical across
// messages, so consecutive queue runs hit the warm cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
