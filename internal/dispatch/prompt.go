package dispatch

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/zulandar/switchyard/internal/registry"
)

// classifyTemplate is the meta-prompt for routing an unaddressed message.
// The user message is sent separately as the user turn.
const classifyTemplate = `Bạn là {{ .General }} của công ty bảo hiểm. Hãy phân tích câu hỏi của người dùng và xác định bộ phận phù hợp nhất để xử lý.

## Các bộ phận
{{ range .Agents }}
- {{ .ID }}: {{ .DisplayName }}. {{ oneLine .Description }}
{{- end }}

Trả về JSON với format:
{
  "suggested_agent": "<một trong: {{ join .IDs ", " }}>",
  "reason": "lý do ngắn gọn",
  "confidence": <số từ 0 đến 1>
}

Chỉ trả về JSON, không thêm text khác.`

var classifyTmpl = template.Must(template.New("classify").Funcs(template.FuncMap{
	"join":    strings.Join,
	"oneLine": oneLine,
}).Parse(classifyTemplate))

// RenderClassifyPrompt renders the classifier meta-prompt listing every
// specialist in reg.
func RenderClassifyPrompt(reg *registry.Registry) (string, error) {
	if reg == nil {
		return "", fmt.Errorf("dispatch: registry is required")
	}
	data := struct {
		General string
		Agents  []registry.AgentDescriptor
		IDs     []string
	}{
		General: registry.GeneralDisplayName,
		Agents:  reg.List(),
		IDs:     reg.IDs(),
	}
	var buf bytes.Buffer
	if err := classifyTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("dispatch: render classify prompt: %w", err)
	}
	return buf.String(), nil
}

// clarificationText lists the specialists for a caller whose message could
// not be routed with confidence.
func clarificationText(agents []registry.AgentDescriptor) string {
	var b strings.Builder
	b.WriteString("Tôi chưa chắc câu hỏi của bạn thuộc bộ phận nào. Vui lòng chọn một trong các trợ lý chuyên môn sau:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "\n- %s (%s): %s", a.DisplayName, a.ID, oneLine(a.Description))
	}
	return b.String()
}

// redirectText tells the caller that agent cannot answer and points them
// back to the general assistant.
func redirectText(agent registry.AgentDescriptor, reason string) string {
	msg := fmt.Sprintf("Câu hỏi này nằm ngoài phạm vi của %s. Vui lòng hỏi %s để được chuyển tới bộ phận phù hợp.",
		agent.DisplayName, registry.GeneralDisplayName)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += "\nLý do: " + reason
	}
	return msg
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
