package prompt

import "strings"

// Assemble realizes the builder's seven-step priority ordering into
// the sequence of provider messages an inference call receives.
func (p *Prompt) Assemble() []ProviderMessage {
	var extraContext []string
	var lastMessage string
	var haveLastMessage bool

	for _, sp := range p.SubPrompts {
		if sp.Kind != KindContent && sp.Kind != KindOmni {
			continue
		}
		switch sp.Role {
		case RoleExtraContext:
			extraContext = append(extraContext, sp.Text)
		case RoleUserLastMessage:
			lastMessage = sp.Text
			haveLastMessage = true
		}
	}

	var messages []ProviderMessage

	for _, sp := range p.SubPrompts {
		if sp.Kind != KindContent && sp.Kind != KindOmni {
			continue
		}
		if sp.Role == RoleExtraContext || sp.Role == RoleUserLastMessage {
			continue
		}
		messages = append(messages, ProviderMessage{Role: sp.Role, Text: sp.Text, Assets: sp.Assets})
	}

	for _, sp := range p.SubPrompts {
		if sp.Kind != KindToolAvailable {
			continue
		}
		messages = append(messages, ProviderMessage{Role: RoleSystem, Text: string(sp.Schema)})
	}

	if len(extraContext) > 0 || haveLastMessage {
		combined := strings.Join(extraContext, "\n")
		if haveLastMessage {
			if combined != "" {
				combined += "\n"
			}
			combined += lastMessage
		}
		messages = append(messages, ProviderMessage{Role: RoleUser, Text: combined})
	}

	for _, sp := range p.SubPrompts {
		if sp.Kind != KindFunctionCall {
			continue
		}
		messages = append(messages, ProviderMessage{Role: RoleAssistant, Text: string(sp.Call)})
	}

	for _, sp := range p.SubPrompts {
		if sp.Kind != KindFunctionCallResponse {
			continue
		}
		messages = append(messages, ProviderMessage{Role: RoleUser, Text: string(sp.Response)})
	}

	return messages
}
