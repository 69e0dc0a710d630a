// Package jwt реализует генерацию и парсинг JWT токенов администраторов
// с пользовательскими claim полями.
package jwt

import "github.com/golang-jwt/jwt/v5"

// CustomClaims описывает данные администратора, хранящиеся в JWT.
type CustomClaims struct {
	Username             string `json:"username"` // Имя администратора
	Role                 string `json:"role"`     // Роль: admin или support
	jwt.RegisteredClaims        // Встроенные стандартные claims JWT (ExpiresAt, IssuedAt и пр.)
}
