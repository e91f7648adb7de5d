// Copyright 2024-2026 Aiku AI

package guilded

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Content is the rich document a message body is sent as.
type Content struct {
	Object   string   `json:"object"`
	Document Document `json:"document"`
}

// Document is the root of a Content tree.
type Document struct {
	Object string         `json:"object"`
	Data   map[string]any `json:"data"`
	Nodes  []Node         `json:"nodes"`
}

// Node is a block, inline or text node. Data is kept raw because its shape
// depends on Type.
type Node struct {
	Object string          `json:"object"`
	Type   string          `json:"type,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Nodes  []Node          `json:"nodes,omitempty"`
	Leaves []Leaf          `json:"leaves,omitempty"`
}

// Leaf is a run of text.
type Leaf struct {
	Object string `json:"object"`
	Text   string `json:"text"`
	Marks  []Mark `json:"marks,omitempty"`
}

// Mark is formatting applied to a Leaf.
type Mark struct {
	Object string          `json:"object"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// EmbedField is one name/value row of an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedAuthor is the author line of an Embed.
type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
	URL     string `json:"url,omitempty"`
}

// EmbedFooter is the footer of an Embed.
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedImage is an image or thumbnail of an Embed.
type EmbedImage struct {
	URL string `json:"url"`
}

// Embed is a rich embed attached to an outgoing message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
}

// DefaultEmbedColor is the color used when an Embed has none.
const DefaultEmbedColor = 0x7298da

// ParsedContent is what a Content tree renders to.
type ParsedContent struct {
	Text     string
	Mentions []Mention
	Emojis   []CustomReaction
	Embeds   []json.RawMessage
}

// ParseContent flattens a document to plain text. Mentions render as
// <@id> and custom reactions as :name:. Embeds found on blocks or their
// children are collected without contributing text.
func ParseContent(c Content) ParsedContent {
	var (
		out  ParsedContent
		text strings.Builder
		seen = make(map[FlexID]int)
	)
	for _, block := range c.Document.Nodes {
		out.Embeds = appendEmbeds(out.Embeds, block.Data)
		for _, n := range block.Nodes {
			if embeds := gjson.GetBytes(n.Data, "embeds"); embeds.Exists() {
				out.Embeds = appendEmbeds(out.Embeds, n.Data)
				continue
			}
			switch {
			case n.Object == "text":
				for _, leaf := range n.Leaves {
					text.WriteString(leaf.Text)
				}
			case n.Object == "inline" && n.Type == "mention":
				raw := gjson.GetBytes(n.Data, "mention")
				var m Mention
				if !raw.IsObject() || json.Unmarshal([]byte(raw.Raw), &m) != nil {
					continue
				}
				text.WriteString("<@" + string(m.ID) + ">")
				if i, ok := seen[m.ID]; ok {
					out.Mentions[i] = m
				} else {
					seen[m.ID] = len(out.Mentions)
					out.Mentions = append(out.Mentions, m)
				}
			case n.Object == "inline" && n.Type == "reaction":
				raw := gjson.GetBytes(n.Data, "reaction.customReaction")
				var r CustomReaction
				if !raw.IsObject() || json.Unmarshal([]byte(raw.Raw), &r) != nil {
					continue
				}
				text.WriteString(":" + r.Name + ":")
				out.Emojis = append(out.Emojis, r)
			}
		}
	}
	out.Text = text.String()
	return out
}

func appendEmbeds(dst []json.RawMessage, data json.RawMessage) []json.RawMessage {
	if len(data) == 0 {
		return dst
	}
	embeds := gjson.GetBytes(data, "embeds")
	if embeds.IsArray() {
		embeds.ForEach(func(_, value gjson.Result) bool {
			dst = append(dst, json.RawMessage(value.Raw))
			return true
		})
	} else if embeds.IsObject() {
		dst = append(dst, json.RawMessage(embeds.Raw))
	}
	return dst
}

// TextNode returns a text node holding s.
func TextNode(s string) Node {
	return Node{Object: "text", Leaves: []Leaf{{Object: "leaf", Text: s}}}
}

// MentionNode returns an inline mention node.
func MentionNode(m Mention) Node {
	data, _ := json.Marshal(map[string]Mention{"mention": m})
	return Node{Object: "inline", Type: "mention", Data: data}
}

// UserMention is a mention of a user by id and display name.
func UserMention(id, name string) Node {
	return MentionNode(Mention{ID: FlexID(id), Name: name, Type: "person", Color: "#7298da", Nickname: true})
}

// BuildContent wraps nodes and embeds in the two block document the API
// expects for outgoing messages.
func BuildContent(nodes []Node, embeds ...Embed) Content {
	if nodes == nil {
		nodes = []Node{}
	}
	embedData, _ := json.Marshal(map[string][]Embed{"embeds": normalizeEmbeds(embeds)})
	return Content{
		Object: "value",
		Document: Document{
			Object: "document",
			Data:   map[string]any{},
			Nodes: []Node{
				{Object: "block", Type: "markdown-plain-text", Data: json.RawMessage(`{}`), Nodes: nodes},
				{Object: "block", Type: "webhookMessage", Data: embedData, Nodes: []Node{}},
			},
		},
	}
}

// normalizeEmbeds returns a copy of embeds with the default color and an
// empty field list filled in.
func normalizeEmbeds(embeds []Embed) []Embed {
	out := append([]Embed{}, embeds...)
	for i := range out {
		if out[i].Color == 0 {
			out[i].Color = DefaultEmbedColor
		}
		if out[i].Fields == nil {
			out[i].Fields = []EmbedField{}
		}
	}
	return out
}

// TextContent is BuildContent with a single text node.
func TextContent(text string, embeds ...Embed) Content {
	return BuildContent([]Node{TextNode(text)}, embeds...)
}
