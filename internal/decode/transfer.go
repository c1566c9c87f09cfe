package decode

import "fmt"

// transferStatus derives a stable status string for a money-transfer bubble.
// The envelope's direction-specific description wins when present; otherwise
// the pay-subtype code maps to a fixed wording so distinct inputs always
// yield distinct, stable outputs.
func transferStatus(p *wcPayInfo, outgoing bool) string {
	if outgoing && p.SenderDes != "" {
		return p.SenderDes
	}
	if !outgoing && p.ReceiverDes != "" {
		return p.ReceiverDes
	}
	sub := atoi(p.PaySubtype)
	switch sub {
	case 1:
		if outgoing {
			return "sent"
		}
		return "received"
	case 3:
		return "collected"
	case 4:
		return "returned"
	case 8, 9:
		return "expired"
	default:
		return fmt.Sprintf("transfer (subtype %d)", sub)
	}
}
