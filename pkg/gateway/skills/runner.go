package skills

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/newsapi"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/openweather"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/tavily"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/todoist"
)

const DefaultTimeout = 8 * time.Second

type WeatherSource interface {
	Current(ctx context.Context, location string) (openweather.Conditions, error)
}

type NewsSource interface {
	TopHeadlines(ctx context.Context, query string, max int) ([]newsapi.Article, error)
}

type SearchSource interface {
	Search(ctx context.Context, query string, maxResults int) (tavily.Results, error)
}

type TaskSink interface {
	CreateTask(ctx context.Context, content, dueString string) (todoist.Task, error)
}

// Recorder observes skill calls. status is "ok" or "fallback".
type Recorder interface {
	RecordSkillCall(skill, status string, d time.Duration)
}

// Result is the text a lookup produced. Fallback is set when the capability
// failed and Text is the fixed fallback string.
type Result struct {
	Text     string
	Fallback bool
	Err      error
}

// TaskOutcome reports a task creation attempt.
type TaskOutcome struct {
	Task    todoist.Task
	Created bool
	Err     error
}

// Enrichment is the prompt to send for one utterance plus any side effect.
type Enrichment struct {
	Prompt   string
	Intent   Intent
	Task     *TaskOutcome
	Fallback bool
}

type RunnerConfig struct {
	Weather  WeatherSource
	News     NewsSource
	Search   SearchSource
	Tasks    TaskSink
	Prompts  *Prompts
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder Recorder
}

// Runner executes skills for one session. A nil source means the capability
// is not configured.
type Runner struct {
	weather  WeatherSource
	news     NewsSource
	search   SearchSource
	tasks    TaskSink
	prompts  *Prompts
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	prompts := cfg.Prompts
	if prompts == nil {
		var err error
		prompts, err = DefaultPrompts()
		if err != nil {
			return nil, err
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		weather:  cfg.Weather,
		news:     cfg.News,
		search:   cfg.Search,
		tasks:    cfg.Tasks,
		prompts:  prompts,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}, nil
}

func (r *Runner) Capabilities() Capabilities {
	var caps Capabilities
	if r.weather != nil {
		caps |= Capabilities(Weather)
	}
	if r.news != nil {
		caps |= Capabilities(News)
	}
	if r.search != nil {
		caps |= Capabilities(Search)
	}
	if r.tasks != nil {
		caps |= Capabilities(Tasks)
	}
	return caps
}

func (r *Runner) Prompts() *Prompts {
	return r.prompts
}

// Enrich classifies utterance and runs the matching skill. Task creation
// happens here, before any generation starts.
func (r *Runner) Enrich(ctx context.Context, utterance string) Enrichment {
	intent := Classify(utterance, r.Capabilities())
	out := Enrichment{Prompt: utterance, Intent: intent}

	switch intent.Kind {
	case KindWeather:
		if intent.Location == "" {
			return out
		}
		res := r.Weather(ctx, intent.Location)
		out.Prompt = r.prompts.render("weather", utterance, intent.Location, res.Text)
		out.Fallback = res.Fallback
	case KindCreateTask:
		if intent.Content == "" {
			return out
		}
		task := r.CreateTask(ctx, intent.Content)
		out.Task = &task
		if task.Created {
			out.Prompt = r.prompts.render("task_created", utterance, intent.Content, "")
		} else {
			out.Prompt = r.prompts.render("task_failed", utterance, intent.Content, r.prompts.Fallback(Tasks))
			out.Fallback = true
		}
	case KindNews:
		res := r.News(ctx, intent.Query)
		out.Prompt = r.prompts.render("news", utterance, "", res.Text)
		out.Fallback = res.Fallback
	case KindSearch:
		res := r.Search(ctx, intent.Query)
		out.Prompt = r.prompts.render("search", utterance, "", res.Text)
		out.Fallback = res.Fallback
	}
	return out
}

func (r *Runner) Weather(ctx context.Context, location string) Result {
	if r.weather == nil {
		return r.fallback(Weather, fmt.Errorf("weather is not configured"))
	}
	return r.call(ctx, Weather, func(ctx context.Context) (string, error) {
		cond, err := r.weather.Current(ctx, location)
		if err != nil {
			return "", err
		}
		return cond.Summary(), nil
	})
}

func (r *Runner) News(ctx context.Context, query string) Result {
	if r.news == nil {
		return r.fallback(News, fmt.Errorf("news is not configured"))
	}
	return r.call(ctx, News, func(ctx context.Context) (string, error) {
		articles, err := r.news.TopHeadlines(ctx, newsTopic(query), 5)
		if err != nil {
			return "", err
		}
		if len(articles) == 0 {
			return "", fmt.Errorf("no headlines found")
		}
		return newsapi.Digest(articles), nil
	})
}

func (r *Runner) Search(ctx context.Context, query string) Result {
	if r.search == nil {
		return r.fallback(Search, fmt.Errorf("search is not configured"))
	}
	return r.call(ctx, Search, func(ctx context.Context) (string, error) {
		res, err := r.search.Search(ctx, query, 3)
		if err != nil {
			return "", err
		}
		digest := res.Digest()
		if digest == "" {
			return "", fmt.Errorf("no results")
		}
		return digest, nil
	})
}

func (r *Runner) CreateTask(ctx context.Context, content string) TaskOutcome {
	if r.tasks == nil {
		return TaskOutcome{Task: todoist.Task{Content: content}, Err: fmt.Errorf("tasks are not configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	task, err := r.tasks.CreateTask(ctx, content, "")
	if err != nil {
		r.logger.Warn("skill failed", "skill", Tasks.String(), "error", err)
		r.record(Tasks, "fallback", time.Since(start))
		return TaskOutcome{Task: todoist.Task{Content: content}, Err: err}
	}
	r.record(Tasks, "ok", time.Since(start))
	if task.Content == "" {
		task.Content = content
	}
	return TaskOutcome{Task: task, Created: true}
}

func (r *Runner) call(ctx context.Context, c Capability, fn func(context.Context) (string, error)) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	text, err := fn(ctx)
	if err != nil {
		r.record(c, "fallback", time.Since(start))
		return r.fallback(c, err)
	}
	r.record(c, "ok", time.Since(start))
	return Result{Text: text}
}

func (r *Runner) fallback(c Capability, err error) Result {
	r.logger.Warn("skill failed", "skill", c.String(), "error", err)
	return Result{Text: r.prompts.Fallback(c), Fallback: true, Err: err}
}

func (r *Runner) record(c Capability, status string, d time.Duration) {
	if r.recorder != nil {
		r.recorder.RecordSkillCall(c.String(), status, d)
	}
}

var newsTopicPattern = regexp.MustCompile(`(?i)\b(?:about|regarding|in)\s+(.+)$`)

// newsTopic pulls a subject out of requests like "latest news about the
// election"; anything else asks for general headlines.
func newsTopic(query string) string {
	m := newsTopicPattern.FindStringSubmatch(strings.TrimSpace(query))
	if len(m) != 2 {
		return ""
	}
	topic := strings.Trim(m[1], " .,!?;:")
	topic = strings.TrimPrefix(strings.TrimPrefix(topic, "the "), "The ")
	return topic
}
