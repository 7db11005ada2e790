package model

import (
	"encoding/json"
	"strings"
)

// Banner 服务主动发出（或被诱导发出）的文本
// 零值表示"没有 banner"，和端口关闭是两回事
type Banner struct {
	text  string
	valid bool
}

// NoBanner 返回空 banner
func NoBanner() Banner {
	return Banner{}
}

// NewBanner 去除首尾空白，空字符串视为没有 banner
func NewBanner(text string) Banner {
	text = strings.TrimSpace(text)
	if text == "" {
		return Banner{}
	}
	return Banner{text: text, valid: true}
}

// Get 返回文本以及是否存在
func (b Banner) Get() (string, bool) {
	return b.text, b.valid
}

// Present 是否获取到了 banner
func (b Banner) Present() bool {
	return b.valid
}

func (b Banner) String() string {
	return b.text
}

func (b Banner) MarshalJSON() ([]byte, error) {
	if !b.valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.text)
}

func (b *Banner) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*b = Banner{}
		return nil
	}
	*b = NewBanner(*s)
	return nil
}
