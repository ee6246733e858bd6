package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/pipeline"
	"github.com/yungbote/arfor-backend/internal/platform/envutil"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
	"github.com/yungbote/arfor-backend/internal/platform/openai"
	"github.com/yungbote/arfor-backend/internal/realtime/bus"
)

var errLLMNotConfigured = errors.New("language model not configured")

type Clients struct {
	// LLM is nil when OPENAI_API_KEY is unset; runs then fail at the first call.
	LLM   openai.Client
	Redis *goredis.Client
	Bus   bus.Bus
}

func wireClients(ctx context.Context, log *logger.Logger, cfg *config.Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	llm, err := openai.NewClient(log)
	if err != nil {
		log.Warn("OpenAI client disabled", "error", err)
	} else {
		out.LLM = llm
	}

	// Redis
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("redis ping: %w", err)
		}
		out.Redis = rdb
		out.Bus = bus.NewRedisBusFromClient(log, rdb, cfg.Redis.ControlChannel)
	}

	return out, nil
}

// limiterClient avoids handing a typed nil to the limiter.
func (c Clients) limiterClient() goredis.UniversalClient {
	if c.Redis == nil {
		return nil
	}
	return c.Redis
}

func (c Clients) Close() {
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

// NewInvoker adapts the model client to the pipeline's call interface.
func NewInvoker(llm openai.Client) pipeline.Invoker {
	return pipeline.InvokerFunc(func(ctx context.Context, spec pipeline.CallSpec) (string, error) {
		if llm == nil || !llm.Configured() {
			return "", errLLMNotConfigured
		}
		return llm.Respond(ctx, openai.Request{
			Model:           spec.Model,
			Instructions:    spec.Instructions,
			Input:           spec.Input,
			MaxOutputTokens: spec.MaxOutputTokens,
			Tool:            spec.Tool,
		})
	})
}

// LoadPrompts reads deployment prompt templates from PROMPTS_DIR when set.
func LoadPrompts(log *logger.Logger, cfg config.PipelineConfig) (pipeline.Prompts, error) {
	dir := envutil.String("PROMPTS_DIR", "")
	if dir == "" {
		log.Warn("PROMPTS_DIR not set, using built-in prompts")
		return pipeline.NewDefaultPrompts(), nil
	}
	p, err := pipeline.LoadPromptDir(dir, cfg.Evaluation.Viewpoints)
	if err != nil {
		return nil, fmt.Errorf("load prompts from %s: %w", dir, err)
	}
	return p, nil
}
