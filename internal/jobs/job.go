package jobs

import (
	"animeagg/internal/anime"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	TypeTrending Type = "trending"
	TypeSearch   Type = "search"
	TypeDetails  Type = "details"
	TypeEpisodes Type = "episodes"
	TypeSources  Type = "sources"
)

var AllTypes = []Type{TypeTrending, TypeSearch, TypeDetails, TypeEpisodes, TypeSources}

func ParseType(name string) (Type, error) {
	for _, t := range AllTypes {
		if string(t) == strings.ToLower(strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", name)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Priority orders pending jobs, higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = []string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority accepts a priority name, an empty name is normal.
func ParsePriority(name string) (Priority, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return PriorityNormal, nil
	}
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown job priority %q", name)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	err := json.Unmarshal(data, &name)
	if err != nil {
		return err
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type Job struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Target      string          `json:"target"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Target is the parsed form of a job target.
//
//	trending  "<limit>" or ""
//	search    "<query>"
//	details   "<source>/<slug>"
//	episodes  "<source>/<slug>"
//	sources   "<source>/<slug>/<episode>[/<server>]"
type Target struct {
	Limit   int
	Query   string
	Source  anime.Source
	Slug    string
	Episode int
	Server  string
}

const defaultTrendingLimit = 20

func ParseTarget(t Type, target string) (Target, error) {
	target = strings.TrimSpace(target)
	switch t {
	case TypeTrending:
		if target == "" {
			return Target{Limit: defaultTrendingLimit}, nil
		}
		limit, err := strconv.Atoi(target)
		if err != nil || limit <= 0 {
			return Target{}, fmt.Errorf("trending target %q is not a positive limit", target)
		}
		return Target{Limit: limit}, nil
	case TypeSearch:
		if target == "" {
			return Target{}, fmt.Errorf("search target must be a query")
		}
		return Target{Query: target}, nil
	case TypeDetails, TypeEpisodes:
		parts := strings.Split(target, "/")
		if len(parts) != 2 || parts[1] == "" {
			return Target{}, fmt.Errorf("%s target %q is not <source>/<slug>", t, target)
		}
		source, err := anime.ParseSource(parts[0])
		if err != nil {
			return Target{}, err
		}
		return Target{Source: source, Slug: parts[1]}, nil
	case TypeSources:
		parts := strings.SplitN(target, "/", 4)
		if len(parts) < 3 || parts[1] == "" {
			return Target{}, fmt.Errorf("sources target %q is not <source>/<slug>/<episode>[/<server>]", target)
		}
		source, err := anime.ParseSource(parts[0])
		if err != nil {
			return Target{}, err
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil || episode <= 0 {
			return Target{}, fmt.Errorf("sources target %q has an invalid episode", target)
		}
		parsed := Target{Source: source, Slug: parts[1], Episode: episode}
		if len(parts) == 4 {
			parsed.Server = parts[3]
		}
		return parsed, nil
	}
	return Target{}, fmt.Errorf("unknown job type %q", t)
}
