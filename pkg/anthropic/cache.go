package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The agents' system prompts are fixed, so every claim after the
// first reads them from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}

// SystemBlocks returns text as a single system block, cached when cache is set.
func SystemBlocks(text string, cache bool) []SystemBlock {
	if cache {
		return BuildCachedSystemBlocks(text, "5m")
	}
	return []SystemBlock{{Text: text}}
}
