// Package delivery 负责出站 webhook 投递与入站确认处理
package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix 签名头前缀
const SignaturePrefix = "sha256="

// Sign 计算 body 的 HMAC-SHA256 签名，格式 sha256=<hex>
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify 常量时间比较签名；缺失、格式错误或截断的签名一律失败
func Verify(secret, body []byte, header string) bool {
	if len(secret) == 0 || !strings.HasPrefix(header, SignaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
