package anthropic

// DefaultCacheTTL keeps the system prompt warm across consecutive pages.
const DefaultCacheTTL = "5m"

// BuildCachedSystemBlocks returns text as a single system block with a cache
// breakpoint. Consecutive requests sharing the same system text then read it
// from the prompt cache. An empty ttl selects DefaultCacheTTL.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = DefaultCacheTTL
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
