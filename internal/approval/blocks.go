package approval

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"
)

const (
	actionsBlockID = "approval_actions"

	// responseBlockIndex is the actions block, replaced by the outcome text.
	responseBlockIndex = 3
)

// PromptBlocks renders the four-block approval prompt.
func PromptBlocks(header, approveValue, rejectValue string) []slack.Block {
	approve := slack.NewButtonBlockElement(ActionApprove, approveValue,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", true, false)).WithStyle(slack.StylePrimary)
	reject := slack.NewButtonBlockElement(ActionReject, rejectValue,
		slack.NewTextBlockObject(slack.PlainTextType, "Reject", true, false)).WithStyle(slack.StyleDanger)

	return []slack.Block{
		slack.NewDividerBlock(),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
		slack.NewDividerBlock(),
		slack.NewActionBlock(actionsBlockID, approve, reject),
	}
}

// ResolvedBlocks returns the original message blocks with the actions block
// replaced by a mrkdwn section holding text. A message with fewer blocks gets
// the section appended. The other blocks are sent back byte for byte, so
// block types the chat library does not model keep every field.
func ResolvedBlocks(original []json.RawMessage, text string) ([]slack.Block, error) {
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)

	blocks := make([]slack.Block, 0, len(original)+1)
	for i, raw := range original {
		if i == responseBlockIndex {
			blocks = append(blocks, section)
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("decode message block %d: invalid JSON", i)
		}
		blocks = append(blocks, RawBlock(raw))
	}
	if len(original) <= responseBlockIndex {
		blocks = append(blocks, section)
	}
	return blocks, nil
}

// RawBlock is an already-encoded block passed through unchanged.
type RawBlock json.RawMessage

type blockHead struct {
	Type    string `json:"type"`
	BlockID string `json:"block_id"`
}

func (b RawBlock) head() blockHead {
	var h blockHead
	_ = json.Unmarshal(b, &h)
	return h
}

func (b RawBlock) BlockType() slack.MessageBlockType { return slack.MessageBlockType(b.head().Type) }

func (b RawBlock) ID() string { return b.head().BlockID }

func (b RawBlock) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return []byte(b), nil
}
