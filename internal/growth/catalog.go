// Package growth holds the growth models used to project stage start dates
// for a throw.
package growth

import (
	_ "embed"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

const day = 24 * time.Hour

//go:embed models.yaml
var defaultModels []byte

type Stage struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Icon         string `yaml:"icon" json:"icon"`
	DayStart     int    `yaml:"dayStart" json:"dayStart"`
	DayEnd       int    `yaml:"dayEnd" json:"dayEnd"`
	Description  string `yaml:"description" json:"description"`
	WhatToExpect string `yaml:"whatToExpect" json:"whatToExpect"`
}

type Model struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Stages []Stage `yaml:"stages" json:"stages"`
}

// StageStart is the wall-clock instant a stage begins for one event.
type StageStart struct {
	Stage Stage
	At    time.Time
}

// Progress describes where an event currently sits inside its model.
type Progress struct {
	Stage     Stage   `json:"stage"`
	DaysSince int     `json:"daysSince"`
	Percent   float64 `json:"progress"`
}

type Catalog struct {
	models map[string]Model
	order  []string
}

// Default parses the embedded model catalog.
func Default() (*Catalog, error) {
	return Parse(defaultModels)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Models []Model `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse growth models: %w", err)
	}

	c := &Catalog{models: make(map[string]Model, len(doc.Models))}
	for _, m := range doc.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("growth model without id")
		}
		if len(m.Stages) == 0 {
			return nil, fmt.Errorf("growth model %s has no stages", m.ID)
		}
		if _, dup := c.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate growth model %s", m.ID)
		}
		for i := 1; i < len(m.Stages); i++ {
			if m.Stages[i].DayStart < m.Stages[i-1].DayStart {
				return nil, fmt.Errorf("growth model %s: stage %s starts before %s",
					m.ID, m.Stages[i].ID, m.Stages[i-1].ID)
			}
		}
		c.models[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c, nil
}

func (c *Catalog) Model(id string) (Model, bool) {
	if c == nil {
		return Model{}, false
	}
	m, ok := c.models[id]
	return m, ok
}

func (c *Catalog) Models() []Model {
	if c == nil {
		return nil
	}
	out := make([]Model, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}

// StageStarts returns the start instant of every stage, in model order.
func StageStarts(m Model, eventTime time.Time) []StageStart {
	out := make([]StageStart, 0, len(m.Stages))
	for _, s := range m.Stages {
		out = append(out, StageStart{Stage: s, At: eventTime.AddDate(0, 0, s.DayStart)})
	}
	return out
}

// CurrentStage finds the latest stage whose start day has been reached. Before
// the first stage starts the first stage is reported with zero progress.
func CurrentStage(eventTime time.Time, m Model, now time.Time) Progress {
	days := int(math.Floor(float64(now.Sub(eventTime)) / float64(day)))

	current := m.Stages[0]
	for _, s := range m.Stages {
		if days >= s.DayStart {
			current = s
		}
	}

	length := current.DayEnd - current.DayStart
	if length < 1 {
		length = 1
	}
	pct := float64(days-current.DayStart) / float64(length) * 100
	pct = math.Min(100, math.Max(0, pct))

	return Progress{Stage: current, DaysSince: days, Percent: pct}
}

// NextStage is the stage after the current one, false when already in the
// last stage.
func NextStage(eventTime time.Time, m Model, now time.Time) (Stage, bool) {
	cur := CurrentStage(eventTime, m, now)
	for i, s := range m.Stages {
		if s.ID == cur.Stage.ID && i+1 < len(m.Stages) {
			return m.Stages[i+1], true
		}
	}
	return Stage{}, false
}
