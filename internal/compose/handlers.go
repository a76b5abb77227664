package compose

import (
	"encoding/json"

	"clipforge/internal/faults"
)

// Handlers decode their body before touching the context, so a malformed
// payload never leaves a partial mutation behind.

type backgroundHandler struct{}

// BackgroundBody configures the looping background video track.
type BackgroundBody struct {
	Loop bool `json:"loop"`
	Mute bool `json:"mute"`
}

func (backgroundHandler) Tag() Tag { return TagBackground }

func (backgroundHandler) Apply(body []byte, in Inputs, cc *Context) error {
	var b BackgroundBody
	if err := json.Unmarshal(body, &b); err != nil {
		return faults.Configf("background layer body: %v", err)
	}
	if in.BackgroundRef == "" {
		return faults.Configf("background layer requires a fetched background")
	}
	opts := map[string]string{}
	if b.Loop {
		opts["loop"] = "1"
	}
	if b.Mute {
		opts["mute"] = "1"
	}
	cc.Append(Track{Kind: "background", Ref: in.BackgroundRef, Opts: opts})
	return nil
}

type cardHandler struct{}

// CardBody renders one generated text section as an overlay card.
type CardBody struct {
	Section string `json:"section"`
	Padding int    `json:"padding"`
}

func (cardHandler) Tag() Tag { return TagCard }

func (cardHandler) Apply(body []byte, in Inputs, cc *Context) error {
	var b CardBody
	if err := json.Unmarshal(body, &b); err != nil {
		return faults.Configf("card layer body: %v", err)
	}
	var text string
	switch b.Section {
	case "question":
		text = in.Question
	case "answer":
		text = in.Answer
	default:
		return faults.Configf("card layer section %q: want question or answer", b.Section)
	}
	cc.Append(Track{Kind: "card", Text: text, Font: in.FontName})
	return nil
}

type voiceHandler struct{}

// VoiceBody configures the narration audio track.
type VoiceBody struct {
	GainDB float64 `json:"gain_db"`
}

func (voiceHandler) Tag() Tag { return TagVoice }

func (voiceHandler) Apply(body []byte, in Inputs, cc *Context) error {
	var b VoiceBody
	if err := json.Unmarshal(body, &b); err != nil {
		return faults.Configf("voice layer body: %v", err)
	}
	if in.VoiceRef == "" {
		return faults.Configf("voice layer requires a rendered voice track")
	}
	cc.Append(Track{Kind: "voice", Ref: in.VoiceRef})
	return nil
}

type subtitleHandler struct{}

// SubtitleBody configures the burned-in subtitle track.
type SubtitleBody struct {
	Style string `json:"style"`
}

func (subtitleHandler) Tag() Tag { return TagSubtitle }

func (subtitleHandler) Apply(body []byte, in Inputs, cc *Context) error {
	var b SubtitleBody
	if err := json.Unmarshal(body, &b); err != nil {
		return faults.Configf("subtitle layer body: %v", err)
	}
	if in.SubtitleRef == "" {
		return faults.Configf("subtitle layer requires a rendered subtitle track")
	}
	opts := map[string]string{}
	if b.Style != "" {
		opts["style"] = b.Style
	}
	cc.Append(Track{Kind: "subtitles", Ref: in.SubtitleRef, Font: in.FontName, Opts: opts})
	return nil
}

type watermarkHandler struct{}

// WatermarkBody stamps a corner watermark on top of everything below it.
type WatermarkBody struct {
	Text    string  `json:"text"`
	Corner  string  `json:"corner"`
	Opacity float64 `json:"opacity"`
}

func (watermarkHandler) Tag() Tag { return TagWatermark }

func (watermarkHandler) Apply(body []byte, in Inputs, cc *Context) error {
	var b WatermarkBody
	if err := json.Unmarshal(body, &b); err != nil {
		return faults.Configf("watermark layer body: %v", err)
	}
	if b.Text == "" {
		return faults.Configf("watermark layer requires text")
	}
	if b.Opacity < 0 || b.Opacity > 1 {
		return faults.Configf("watermark opacity %v out of range [0,1]", b.Opacity)
	}
	corner := b.Corner
	if corner == "" {
		corner = "bottom-right"
	}
	cc.Append(Track{Kind: "watermark", Text: b.Text, Font: in.FontName, Opts: map[string]string{
		"corner":  corner,
		"opacity": formatOpacity(b.Opacity),
	}})
	return nil
}

func formatOpacity(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
