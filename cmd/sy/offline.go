package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/switchyard/internal/completion"
	"github.com/zulandar/switchyard/internal/registry"
)

// offlineKeywords routes messages without a backend. Agents are checked in
// order, so the more specific vocabulary comes first.
var offlineKeywords = []struct {
	agent    string
	keywords []string
}{
	{registry.Contract, []string{"hợp đồng", "điều khoản", "ký kết", "phí bảo hiểm", "pending"}},
	{registry.Claims, []string{"bồi thường", "khiếu nại", "hồ sơ claim"}},
	{registry.Training, []string{"đào tạo", "nghiệp vụ", "khóa học", "sbs", "học"}},
	{registry.Recruitment, []string{"tuyển dụng", "ứng viên", "ứng tuyển", "nhân sự"}},
}

// classifyByKeyword answers "classify" requests for --offline sessions.
func classifyByKeyword(_ context.Context, req completion.Request) completion.Reply {
	msg := strings.ToLower(req.UserMessage)
	for _, k := range offlineKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(msg, kw) {
				return completion.Reply{Text: fmt.Sprintf(
					`{"suggested_agent": %q, "confidence": 0.9, "reason": "từ khóa %q"}`, k.agent, kw)}
			}
		}
	}
	return completion.Reply{Text: `{"suggested_agent": "contract", "confidence": 0.2, "reason": "không có từ khóa phù hợp"}`}
}
