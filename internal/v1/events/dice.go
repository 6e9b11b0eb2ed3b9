package events

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatRollMessage builds the server-authoritative dice message:
//
//	[context]: NdM: [r1, r2, ...] ±mod = total (Advantage|Disadvantage)
//
// The results bracket is omitted when no individual results were supplied,
// the modifier when it is zero, and the suffix when the roll was straight.
// The player name travels on the frame, not in the message.
func FormatRollMessage(d DiceRollData) string {
	var b strings.Builder
	if d.Context != "" {
		b.WriteString(d.Context)
		b.WriteString(": ")
	}
	b.WriteString(d.DiceNotation)
	b.WriteString(":")
	if len(d.Results) > 0 {
		parts := make([]string, len(d.Results))
		for i, r := range d.Results {
			parts[i] = strconv.Itoa(r)
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("]")
	}
	if d.Modifier != 0 {
		fmt.Fprintf(&b, " %+d", d.Modifier)
	}
	fmt.Fprintf(&b, " = %d", d.Total)
	switch strings.ToLower(d.Advantage) {
	case "advantage":
		b.WriteString(" (Advantage)")
	case "disadvantage":
		b.WriteString(" (Disadvantage)")
	}
	return b.String()
}
