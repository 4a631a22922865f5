package node

import (
	"github.com/redis/go-redis/v9"
	"goa.design/flow/model"
	"goa.design/flow/spec"
)

// DefaultRegistry assembles the registry with every shipped executor.
// clients maps AI provider subtypes to model clients; redisClient backs
// key-value memories and may be nil.
func DefaultRegistry(clients map[string]model.Client, redisClient *redis.Client) *Registry {
	r := NewRegistry()
	r.RegisterType(spec.TypeTrigger, Trigger{})
	r.Register(spec.TypeAction, "HTTP_REQUEST", NewHTTPAction(nil))
	r.RegisterType(spec.TypeExternalAction, NewExternal())
	r.RegisterType(spec.TypeFlow, NewFlow(nil))
	r.RegisterType(spec.TypeHumanInTheLoop, NewHIL())
	r.RegisterType(spec.TypeAIAgent, NewAIAgent(clients, NewDefaultMemoryProvider(redisClient), nil))
	return r
}
