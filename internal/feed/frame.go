package feed

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// FrameKind tags the decoded variant of an inbound feed frame.
type FrameKind int

const (
	// FrameUnrecognized is anything the decoder cannot classify.
	// Consumed without side effects, never an error.
	FrameUnrecognized FrameKind = iota
	// FrameStatus is a control frame: connection/subscription
	// acknowledgement or heartbeat.
	FrameStatus
	// FrameTick carries a last-trade price for one exchange pair.
	FrameTick
)

// Frame is the tagged result of decoding one wire message.
type Frame struct {
	Kind  FrameKind
	Pair  string          // set for FrameTick
	Price decimal.Decimal // set for FrameTick
	Event string          // set for FrameStatus
}

// tickerPayload is the object at index 1 of an array-shaped ticker frame.
// "c" is [lastTradePrice, lastTradeVolume].
type tickerPayload struct {
	C []string `json:"c"`
}

// statusEvent is the shape of object-framed control messages.
type statusEvent struct {
	Event string `json:"event"`
}

// DecodeFrame classifies one inbound message. The exchange sends two frame
// shapes on the same channel: object-shaped events ({"event":"heartbeat"},
// subscription acknowledgements) and array-shaped channel data
// ([channelID, payload, channelName, pair]).
func DecodeFrame(data []byte) Frame {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		return decodeArrayFrame(arr)
	}

	var ev statusEvent
	if err := json.Unmarshal(data, &ev); err == nil && ev.Event != "" {
		return Frame{Kind: FrameStatus, Event: ev.Event}
	}

	return Frame{Kind: FrameUnrecognized}
}

func decodeArrayFrame(arr []json.RawMessage) Frame {
	if len(arr) < 4 {
		return Frame{Kind: FrameUnrecognized}
	}

	var channel, pair string
	if json.Unmarshal(arr[2], &channel) != nil || channel != "ticker" {
		return Frame{Kind: FrameUnrecognized}
	}
	if json.Unmarshal(arr[3], &pair) != nil || pair == "" {
		return Frame{Kind: FrameUnrecognized}
	}

	var payload tickerPayload
	if json.Unmarshal(arr[1], &payload) != nil || len(payload.C) == 0 {
		return Frame{Kind: FrameUnrecognized}
	}

	price, err := decimal.NewFromString(payload.C[0])
	if err != nil {
		return Frame{Kind: FrameUnrecognized}
	}

	return Frame{Kind: FrameTick, Pair: pair, Price: price}
}
