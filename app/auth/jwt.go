package auth

import (
	"errors"
	"time"

	"autoclip/app/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 令牌无效或签名不匹配
	ErrInvalidToken = errors.New("无效的访问令牌")
	// ErrTokenFresh 令牌距离过期还早，不需要刷新
	ErrTokenFresh = errors.New("令牌尚未临近过期")
)

// 过期前多久允许刷新
const refreshWindow = time.Hour

// Claims 访问令牌携带的身份信息
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService 访问令牌的签发、校验与刷新
type JWTService struct {
	secret []byte
	expire time.Duration
	issuer string
}

// NewJWTService 从配置创建令牌服务
func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{
		secret: []byte(cfg.JWT.Secret),
		expire: time.Duration(cfg.JWT.ExpireTime) * time.Hour,
		issuer: cfg.JWT.Issuer,
	}
}

// GenerateToken 为用户签发 HS256 令牌
func (s *JWTService) GenerateToken(userID uint, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken 校验令牌并返回声明
// 只接受 HMAC 签名，其他算法一律拒绝
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshToken 用临近过期的旧令牌换发新令牌
func (s *JWTService) RefreshToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	if time.Until(claims.ExpiresAt.Time) > refreshWindow {
		return "", ErrTokenFresh
	}
	return s.GenerateToken(claims.UserID, claims.Username)
}
