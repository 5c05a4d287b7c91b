package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// VoiceOptions are the prebuilt voices available on the live endpoint; one
// is picked at random per session.
var VoiceOptions = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede", "Zephyr"}

// signOffCues close out a session once an order has been placed. Matched
// case-insensitively against the model's finalized turn text.
var signOffCues = []string{"goodbye", "thank you", "شکریہ", "delivery"}

// ContainsSignOff reports whether finalized model text reads as a farewell.
func ContainsSignOff(text string) bool {
	lowered := strings.ToLower(text)
	for _, cue := range signOffCues {
		if strings.Contains(lowered, cue) {
			return true
		}
	}
	return false
}

// BuildSystemInstruction renders the one-time system prompt for a session
// from the shop configuration.
func BuildSystemInstruction(settings *entities.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a friendly and fast AI voice assistant for a pizza shop named %q. Your job is to take pizza orders over the phone.

**CRITICAL RULES:**
1.  **NO HINDI SCRIPT.** Use Urdu (Nastaliq) or English only.
2.  **POLITENESS:** Be polite.
3.  **VULGARITY:** Warn strictly if vulgar. If repeated, say Goodbye and output: %s.
4.  **IRRELEVANCE:** Warn if off-topic. If repeated, output: %s.

**Menu:**
Pizzas:
%s
Drinks:
%s
Deals:
%s

**Flow:**
1. Greet as %q.
2. Answer menu questions.
3. **Ask for Special Instructions**.
4. Confirm order & total.
5. Ask Payment Method, Name, Address, WhatsApp.
6. Call 'placeOrder'.
`,
		settings.ShopInfo.Name,
		TerminationToken,
		TerminationToken,
		formatMenuItems(settings.Pizzas),
		formatMenuItems(settings.Drinks),
		formatDeals(settings.Deals),
		settings.ShopInfo.Name,
	)

	if len(settings.AllowedZones) > 0 {
		fmt.Fprintf(&b, "\n**Delivery Zones:** %s.", strings.Join(settings.AllowedZones, ", "))
	}
	return b.String()
}

func formatMenuItems(items []entities.MenuItem) string {
	if len(items) == 0 {
		return "None available"
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		sizes := make([]string, 0, len(item.Sizes))
		for size := range item.Sizes {
			sizes = append(sizes, size)
		}
		sort.Strings(sizes)
		parts := make([]string, 0, len(sizes))
		for _, size := range sizes {
			parts = append(parts, fmt.Sprintf("%s (Rs.%d)", size, item.Sizes[size]))
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", item.Name, strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}

func formatDeals(deals []entities.Deal) string {
	if len(deals) == 0 {
		return "None available"
	}
	lines := make([]string, 0, len(deals))
	for _, deal := range deals {
		lines = append(lines, fmt.Sprintf("- %q: %s, only Rs.%d.", deal.Name, deal.Description, deal.Price))
	}
	return strings.Join(lines, "\n")
}
