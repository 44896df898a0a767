// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_asr

import (
	"fmt"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	DefaultLanguageCode = "en-US" // language for streaming recognition
	DefaultModel        = "long"  // recognition model
)

// googleOption carries the Google Speech client configuration.
type googleOption struct {
	logger        commons.Logger
	clientOptions []option.ClientOption
	projectID     string
	languageCode  string
	sampleRate    int
}

// NewGoogleOption builds client options from a service-account credentials
// file. The project id is required for the recognizer resource path.
func NewGoogleOption(logger commons.Logger, credentialsPath, projectID string, sampleRate int) (*googleOption, error) {
	if projectID == "" {
		return nil, fmt.Errorf("google asr requires a project id")
	}
	co := make([]option.ClientOption, 0, 1)
	if credentialsPath != "" {
		co = append(co, option.WithCredentialsFile(credentialsPath))
	}
	return &googleOption{
		logger:        logger,
		clientOptions: co,
		projectID:     projectID,
		languageCode:  DefaultLanguageCode,
		sampleRate:    sampleRate,
	}, nil
}

// GetClientOptions returns all configured Google API client options.
func (g *googleOption) GetClientOptions() []option.ClientOption {
	return g.clientOptions
}

// SpeechToTextOptions generates the streaming recognition configuration:
// LINEAR16 mono at the capture rate, interim results, automatic punctuation.
func (g *googleOption) SpeechToTextOptions() *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(g.sampleRate),
					AudioChannelCount: 1,
				},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableAutomaticPunctuation: true,
				EnableWordConfidence:       true,
			},
			LanguageCodes: []string{g.languageCode},
			Model:         DefaultModel,
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
			InterimResults: true,
		},
	}
}

// GetRecognizer returns the global recognizer resource path.
func (g *googleOption) GetRecognizer() string {
	return fmt.Sprintf("projects/%s/locations/global/recognizers/_", g.projectID)
}
