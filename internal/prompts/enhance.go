package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/omoideart/omoide-gallery/internal/gallery"
)

// MaxPromptLength is the longest prompt sent to the image provider.
const MaxPromptLength = 2000

var atmosphereDescriptions = map[string]string{
	"sunny":    "bathed in brilliant sunlight with crisp shadows and vibrant clarity",
	"golden":   "illuminated by the warm, honey-colored light of the golden hour",
	"overcast": "shrouded in moody, overcast skies with soft, diffused light",
	"rainy":    "veiled in gentle rain and mist, creating ethereal atmosphere",
	"night":    "embraced by the deep blues and blacks of night, with subtle moonlight",
}

var feelingDescriptors = map[string]string{
	"peaceful":   "serene tranquility",
	"awe":        "breathtaking majesty",
	"energetic":  "dynamic vitality",
	"romantic":   "tender intimacy",
	"nostalgic":  "wistful remembrance",
	"melancholy": "poignant beauty",
}

var seasonDescriptions = map[string]string{
	"spring": "in spring, with fresh blossoms and tender green leaves",
	"summer": "in high summer, with lush foliage and long bright days",
	"autumn": "in autumn, with maple leaves turning crimson and gold",
	"winter": "in winter, under a quiet blanket of snow",
}

// Variations keep the four images of a gallery from converging on the same
// composition. Slot n uses Variations[n-1].
var Variations = []string{
	"Wide panoramic view with a distant horizon and layered depth.",
	"Intimate close framing that lingers on the focal subject.",
	"Elevated vantage point looking down across the scene.",
	"Vertical composition with strong foreground elements framing the view.",
}

// DescribeAtmosphere maps a form value to its painterly description.
// Unknown values are used as given.
func DescribeAtmosphere(atmosphere string) string {
	if desc, ok := atmosphereDescriptions[strings.ToLower(strings.TrimSpace(atmosphere))]; ok {
		return desc
	}
	return atmosphere
}

// FeelingPhrase joins the mood descriptors of each feeling with "and".
func FeelingPhrase(feelings []string) string {
	parts := make([]string, 0, len(feelings))
	for _, f := range feelings {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if desc, ok := feelingDescriptors[strings.ToLower(f)]; ok {
			parts = append(parts, desc)
		} else {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " and ")
}

// BuildMemoryPrompt weaves the memory inputs into the Ukiyo-e prompt.
func BuildMemoryPrompt(in gallery.UserInputs) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Ukiyo-e woodblock print in the refined and atmospheric style of Hiroshige, capturing a personal memory of %s in Japan", in.Location)
	if season, ok := seasonDescriptions[strings.ToLower(strings.TrimSpace(in.Season))]; ok {
		b.WriteString(" ")
		b.WriteString(season)
	} else if in.Season != "" {
		fmt.Fprintf(&b, " in %s", in.Season)
	}
	b.WriteString(". ")

	fmt.Fprintf(&b, "The scene is %s, focusing on %s as the central element that draws the viewer's eye. ", DescribeAtmosphere(in.Atmosphere), in.Focus)
	fmt.Fprintf(&b, "A distinctive detail enhances the composition: %s. ", in.Detail)
	fmt.Fprintf(&b, "The entire image evokes a feeling of %s, rendered with the characteristic flat color planes, bold outlines, and masterful use of negative space found in classical Japanese woodblock prints. ", FeelingPhrase(in.Feelings))
	b.WriteString("The color palette should be both authentic to Ukiyo-e tradition and emotionally resonant with the memory's mood.")
	b.WriteString(" Compositional style: asymmetric balance with dramatic perspective, subtle gradients in the sky, and the poetic simplicity that makes Japanese prints timeless. High quality, museum-worthy artwork.")

	return b.String()
}

// ForSlot appends the composition hint of an image slot (1-based) and keeps
// the result within MaxPromptLength. The hint wins over the tail of a long
// base prompt.
func ForSlot(base string, index int) string {
	base = strings.TrimSpace(base)
	if index < 1 || index > len(Variations) {
		return truncatePrompt(base, MaxPromptLength)
	}

	hint := Variations[index-1]
	available := MaxPromptLength - len(hint) - 2
	if len(base) > available {
		base = truncatePrompt(base, available) + "."
	}
	return truncatePrompt(base+" "+hint, MaxPromptLength)
}

// truncatePrompt intelligently truncates a prompt at word boundaries
func truncatePrompt(prompt string, maxLen int) string {
	if len(prompt) <= maxLen {
		return prompt
	}

	// Never split a multi-byte character
	for maxLen > 0 && !utf8.RuneStart(prompt[maxLen]) {
		maxLen--
	}

	// Find the last space before the limit
	truncated := prompt[:maxLen]
	lastSpace := strings.LastIndex(truncated, " ")

	if lastSpace > maxLen*2/3 { // Only truncate at word if we're not losing too much
		truncated = truncated[:lastSpace]
	}

	// Remove trailing punctuation/whitespace
	truncated = strings.TrimRight(truncated, " ,.")

	return truncated
}
