package bot

import (
	"fmt"
	"strings"

	"github.com/ruijietay/Dabao4Me/internal/models"
	"github.com/ruijietay/Dabao4Me/internal/transport"
)

const listingTimeFormat = "02 Jan 06 03:04 PM"

func roleKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{{Label: "Request an order", Data: "role:requester"}},
		{{Label: "Fulfil an order", Data: "role:fulfiller"}},
		{{Label: "Modify/Cancel an order", Data: "role:modify"}},
	}
}

func canteenKeyboard() transport.Keyboard {
	var kb transport.Keyboard
	for _, c := range models.Canteens {
		kb = append(kb, []transport.Button{{Label: c.DisplayName(), Data: "canteen:" + string(c)}})
	}
	return kb
}

func modifyActionKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{{Label: "Change canteen", Data: "modify:edit_canteen"}},
		{{Label: "Change food", Data: "modify:edit_food"}},
		{{Label: "Change tip", Data: "modify:edit_tip"}},
		{{Label: "Cancel this request", Data: "modify:cancel"}},
	}
}

func ratingKeyboard(requestID string) transport.Keyboard {
	return transport.Keyboard{
		{{Label: "\U0001F44D", Data: "rate:good:" + requestID}},
		{{Label: "\U0001F44E", Data: "rate:bad:" + requestID}},
	}
}

// formatListing renders the numbered request list a fulfiller picks from.
// ratings maps requester id to their reputation record; each line carries
// the trust percentage so fulfillers see it before they commit.
func formatListing(reqs []models.Request, ratings map[int64]models.RatingRecord) string {
	var sb strings.Builder
	for i, req := range reqs {
		rec := ratings[req.RequesterID]
		sb.WriteString(fmt.Sprintf("%d) Requested on: %s\n", i+1, req.CreatedAt.Format(listingTimeFormat)))
		sb.WriteString(fmt.Sprintf("Username / Name: %s | %d%% \U0001F44D out of %d ratings.\n",
			req.RequesterName, rec.Percentage(), rec.TotalReceived()))
		sb.WriteString(fmt.Sprintf("Canteen: %s\n", req.Canteen.DisplayName()))
		sb.WriteString(fmt.Sprintf("Food: %s\n", req.Food))
		sb.WriteString(fmt.Sprintf("Tip Amount: $%s\n\n", req.Tip.StringFixed(2)))
	}
	return sb.String()
}

// formatOwnListing renders the requester's own open requests for the
// modify/cancel menu.
func formatOwnListing(reqs []models.Request) string {
	var sb strings.Builder
	for i, req := range reqs {
		sb.WriteString(fmt.Sprintf("%d) Requested on: %s\n", i+1, req.CreatedAt.Format(listingTimeFormat)))
		sb.WriteString(fmt.Sprintf("Canteen: %s\n", req.Canteen.DisplayName()))
		sb.WriteString(fmt.Sprintf("Food: %s\n", req.Food))
		sb.WriteString(fmt.Sprintf("Tip Amount: $%s\n\n", req.Tip.StringFixed(2)))
	}
	return sb.String()
}

func formatSummary(req models.Request) string {
	return fmt.Sprintf("Request placed!\nSummary\nCanteen: %s\nFood: %s\nTip Amount: $%s",
		req.Canteen.DisplayName(), req.Food, req.Tip.StringFixed(2))
}

func formatMatchedForFulfiller(req models.Request) string {
	return fmt.Sprintf("You are now connected with %s.\nCanteen: %s\nFood: %s\nTip Amount: $%s\n\n"+
		"Messages you send are forwarded to the requester. Send /complete when the order is done, or /end to stop.",
		req.RequesterName, req.Canteen.DisplayName(), req.Food, req.Tip.StringFixed(2))
}

func formatMatchedForRequester(req models.Request, rec models.RatingRecord) string {
	return fmt.Sprintf("%s has picked up your request! (%d%% \U0001F44D out of %d ratings)\n\n"+
		"Messages you send are forwarded to them. Send /complete when the order is done, or /end to stop.",
		req.FulfillerName, rec.Percentage(), rec.TotalReceived())
}
