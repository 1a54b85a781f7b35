package auth

import (
	"errors"
	"testing"

	"autoclip/app/config"
)

func testJWTConfig(secret string) *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:     secret,
			ExpireTime: 24,
			Issuer:     "autoclip",
		},
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	s := NewJWTService(testJWTConfig("test-secret"))

	token, err := s.GenerateToken(7, "alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" {
		t.Errorf("声明不匹配: %+v", claims)
	}
	if claims.Issuer != "autoclip" {
		t.Errorf("签发者 = %s, want autoclip", claims.Issuer)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewJWTService(testJWTConfig("secret-a")).GenerateToken(1, "alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewJWTService(testJWTConfig("secret-b")).ValidateToken(token); err == nil {
		t.Error("错误密钥签发的令牌通过了校验")
	}
}

func TestRefreshTokenStillFresh(t *testing.T) {
	s := NewJWTService(testJWTConfig("test-secret"))

	// 刚签发的令牌距离过期还有 24 小时，不允许刷新
	token, err := s.GenerateToken(1, "alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := s.RefreshToken(token); !errors.Is(err, ErrTokenFresh) {
		t.Errorf("RefreshToken = %v, want ErrTokenFresh", err)
	}
}
