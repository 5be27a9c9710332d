package orchestrator

import (
	"context"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
)

// Pipeline is the voice/media stage handed a confirmed call. Run may
// return early or block until ctx ends; either way the call is only over
// when the monitor says so.
type Pipeline interface {
	Run(ctx context.Context, sessionName string, participant core.Participant) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, sessionName string, participant core.Participant) error

func (f PipelineFunc) Run(ctx context.Context, sessionName string, participant core.Participant) error {
	return f(ctx, sessionName, participant)
}

// DefaultGreeting is spoken to every caller by GreetingPipeline.
const DefaultGreeting = "Hello, thank you for calling. I am the company's AI assistant. How can I help you today?"

// GreetingPipeline stands in for a voice agent: it logs the welcome
// message for the caller and holds the call until ctx ends.
type GreetingPipeline struct {
	Greeting   string
	Classifier *classifier.Classifier
	Log        log.Logger
}

func (g *GreetingPipeline) Run(ctx context.Context, sessionName string, participant core.Participant) error {
	greeting := g.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	cls := g.Classifier
	if cls == nil {
		cls = classifier.New(classifier.DefaultKeys())
	}
	logger := g.Log
	if logger == nil {
		logger = log.GetLogger()
	}

	info := cls.Describe(participant)
	logger.WithFields(map[string]interface{}{
		"component":   "pipeline",
		"session":     sessionName,
		"participant": participant.Identity,
		"origin":      info.Origin,
	}).Infof("greeting caller: %q", greeting)

	<-ctx.Done()
	return nil
}
