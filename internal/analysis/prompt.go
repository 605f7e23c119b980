package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snuttify/snuttify-agent/internal/library"
)

const DefaultSystemPrompt = `You are an expert at analysing videos of used products. Your task is to create meaningful snippets describing the products shown.

A snippet is a group of consecutive transcript segments that together describe:
1. A specific product or product group shown in the video
2. The product's condition and characteristics
3. Any details about use or installation

For every snippet:
1. Give it a clear title naming the product
2. Write a detailed description covering what the product is, its condition and notable features, and relevant context from the video
3. List the segment numbers that belong to it, taken from the numbered input, in order and without gaps

Focus on details that matter to someone looking for second-hand products.`

const outputInstructions = `Respond with a JSON object of the form:
{"snippets": [{"title": string, "description": string, "segments": [int], "product_type": string, "condition": string, "brand": string, "compatibility": string, "intended_use": string, "modifications": [string], "missing_parts": [string]}]}
Use an empty string or empty list for anything not mentioned or visible.`

// SystemPrompt appends the output format and language hint to base.
func SystemPrompt(base, language string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	b.WriteString("\n\n")
	b.WriteString(outputInstructions)
	if language != "" {
		fmt.Fprintf(&b, "\nWrite titles and descriptions in the language of the transcript (%s).", language)
	}
	return b.String()
}

// BuildPrompt renders segments as a numbered list, one per line.
func BuildPrompt(segs []library.Segment) string {
	var b strings.Builder
	for i, seg := range segs {
		fmt.Fprintf(&b, "%d. [%.2fs-%.2fs] %s\n", i, seg.Start, seg.End, strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// ParseResponse decodes model output, tolerating a markdown code fence and
// a bare snippet array.
func ParseResponse(text string) (*Response, error) {
	body := stripFence(text)
	if body == "" {
		return nil, fmt.Errorf("empty model response")
	}

	resp := &Response{Raw: text}
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &resp.Snippets); err != nil {
			return nil, fmt.Errorf("cannot parse snippet list: %w", err)
		}
		return resp, nil
	}
	if err := json.Unmarshal([]byte(body), resp); err != nil {
		return nil, fmt.Errorf("cannot parse model response: %w", err)
	}
	return resp, nil
}

// RenderArtifact documents one analysis call. Images are listed, not
// embedded.
func RenderArtifact(req Request, resp *Response) string {
	var b strings.Builder
	b.WriteString("# Analysis Call\n\n## System Prompt\n```\n")
	b.WriteString(req.SystemPrompt)
	b.WriteString("\n```\n\n## User Prompt\n```\n")
	b.WriteString(req.Prompt)
	b.WriteString("```\n\n## Images\n")
	if len(req.Images) == 0 {
		b.WriteString("none\n")
	}
	for _, img := range req.Images {
		fmt.Fprintf(&b, "- %s at %.2fs (%d bytes)\n", img.Path, img.Timestamp, len(img.Data))
	}
	b.WriteString("\n## Response\n")
	if resp == nil || resp.Raw == "" {
		b.WriteString("no response\n")
		return b.String()
	}
	b.WriteString("```json\n")
	b.WriteString(strings.TrimSpace(resp.Raw))
	b.WriteString("\n```\n")
	return b.String()
}
