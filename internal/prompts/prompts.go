package prompts

import (
	"fmt"
	"strings"

	"github.com/timmy/lookbook/internal/domain"
)

// ============================================================================
// Shared Lexicons
// ============================================================================

// GarmentTerms is the shared apparel vocabulary kept in the studio style guide.
var GarmentTerms = []string{
	"t-shirt", "hoodie", "sweatshirt", "polo", "tank top", "button-down shirt",
	"jeans", "chinos", "shorts", "skirt", "dress", "jacket", "bomber", "parka",
	"cardigan", "sneakers", "cap", "tote bag",
}

// StudioStyle is appended to every generation so catalog shots stay consistent.
const StudioStyle = `Photorealistic product photography, soft even studio lighting, ` +
	`neutral seamless background, garment fully in frame, true-to-life fabric texture ` +
	`and color, no text, no watermark, no logos other than those described.`

// ============================================================================
// Kind Templates
// ============================================================================

// GenerateTemplate creates a new catalog image from a description.
const GenerateTemplate = `Create a catalog image of the following apparel item.

Item: %s

` + StudioStyle

// EditTemplate changes the supplied image while keeping everything not mentioned.
const EditTemplate = `Edit the supplied apparel image. Apply only this change and keep the garment ` +
	`shape, framing, lighting and background exactly as they are.

Change: %s`

// RecolorTemplate changes only the garment color.
const RecolorTemplate = `Recolor the garment in the supplied image. Keep the fabric texture, folds, ` +
	`shadows, stitching and print placement unchanged; only the base color changes.

Target color: %s`

// UpscaleTemplate asks for a sharper version of the same image.
const UpscaleTemplate = `Upscale the supplied apparel image to a higher resolution. Do not change ` +
	`composition, color or detail; recover fabric texture and edge sharpness only.%s`

// RemoveBackgroundTemplate isolates the garment.
const RemoveBackgroundTemplate = `Remove the background from the supplied apparel image and place the ` +
	`garment on a pure white background. Keep the garment edges clean and unaltered.%s`

// VariationTemplate asks for an alternative take on the supplied image.
const VariationTemplate = `Produce a variation of the supplied apparel image: same garment, a different ` +
	`pose or angle suitable for a product page.

Direction: %s

` + StudioStyle

var templates = map[domain.JobKind]string{
	domain.JobKindGenerate:         GenerateTemplate,
	domain.JobKindEdit:             EditTemplate,
	domain.JobKindRecolor:          RecolorTemplate,
	domain.JobKindUpscale:          UpscaleTemplate,
	domain.JobKindRemoveBackground: RemoveBackgroundTemplate,
	domain.JobKindVariation:        VariationTemplate,
}

// Compose wraps the user's prompt in the instruction template for kind.
// Unknown kinds pass the prompt through unchanged.
func Compose(kind domain.JobKind, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	tmpl, ok := templates[kind]
	if !ok {
		return prompt
	}
	switch kind {
	case domain.JobKindUpscale, domain.JobKindRemoveBackground:
		// The prompt is an optional note for these kinds.
		if prompt != "" {
			prompt = "\n\nNote: " + prompt
		}
	case domain.JobKindVariation:
		if prompt == "" {
			prompt = "any"
		}
	}
	return fmt.Sprintf(tmpl, prompt)
}

// RequiresPrompt reports whether kind is meaningless without user text.
func RequiresPrompt(kind domain.JobKind) bool {
	switch kind {
	case domain.JobKindGenerate, domain.JobKindEdit, domain.JobKindRecolor:
		return true
	}
	return false
}
