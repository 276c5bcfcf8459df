package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 中文说明：
// LINE 通知器：每轮检测完成后，把信号摘要推送到指定用户。

const linePushURL = "https://api.line.me/v2/bot/message/push"

type Line struct {
	ChannelToken string
	UserID       string
	Client       *http.Client
}

func NewLine(channelToken, userID string) *Line {
	return &Line{ChannelToken: channelToken, UserID: userID, Client: &http.Client{Timeout: 15 * time.Second}}
}

// SendText 发送文本消息（带最多 3 次重试）
func (l *Line) SendText(text string) error {
	if l.ChannelToken == "" || l.UserID == "" {
		return fmt.Errorf("LINE 配置不完整")
	}

	payload := map[string]any{
		"to": l.UserID,
		"messages": []map[string]any{
			{"type": "text", "text": text},
		},
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", linePushURL, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+l.ChannelToken)
		resp, err := l.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("line status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}
