package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

const jwtLifespan = time.Hour

var (
	ErrNoToken = errors.New("bearer token not provided")
)

// User is a local dashboard account.
type User struct {
	ID       int    `storm:"increment"`
	Email    string `storm:"unique"`
	Name     string
	Password string
	Admin    bool
}

// SetPassword stores the bcrypt hash for the provided plain text.
func (u *User) SetPassword(pass []byte) {
	hash, _ := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	u.Password = string(hash)
}

// VerifyPassword compares the stored hash with the provided plain text,
// returning bcrypt's error directly for downstream inspection.
func (u *User) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), pass)
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	return nil
}

type JWTPayload struct {
	SignedToken string `json:"token"`
}

func newJWT(sub string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.StandardClaims{
		Issuer:    ENV.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(jwtLifespan).Unix(),
		Subject:   sub,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString([]byte(ENV.JWTSecret))
}

// Login looks up a user, verifies the password and hands out a token.
func Login(w http.ResponseWriter, r *http.Request) {
	data := new(LoginPayload)
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var user User
	if err := ENV.DB.One("Email", data.Email, &user); err != nil {
		if err == storm.ErrNotFound {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err := user.VerifyPassword([]byte(data.Password)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			render.Render(w, r, ErrPermissionDenied(errors.New("invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	token, err := newJWT(user.Email)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{token})
}

// JWTRefresh issues a fresh token against valid existing claims.
func JWTRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.Context().Value("jwt").(*jwt.Token)
	claims := token.Claims.(*jwt.StandardClaims)

	fresh, err := newJWT(claims.Subject)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{fresh})
}

// ValidateJWT gates a route tree on a valid token taken from the query
// string, the Authorization header or a cookie, in that order.
func ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("jwt")

		if tokenStr == "" {
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 7 && strings.EqualFold(bearer[0:6], "bearer") {
				tokenStr = bearer[7:]
			}
		}

		if tokenStr == "" {
			if cookie, err := r.Cookie("jwt"); err == nil {
				tokenStr = cookie.Value
			}
		}

		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(ErrNoToken))
			return
		}

		token, err := jwt.ParseWithClaims(tokenStr,
			&jwt.StandardClaims{},
			func(*jwt.Token) (interface{}, error) { return []byte(ENV.JWTSecret), nil })

		if err != nil {
			msg := errors.New("invalid token")
			if jwterr, ok := err.(*jwt.ValidationError); ok && jwterr.Errors&jwt.ValidationErrorExpired != 0 {
				msg = errors.New("token has expired")
			}
			render.Render(w, r, ErrUnauthorized(msg))
			return
		}

		if !token.Valid {
			render.Render(w, r, ErrUnauthorized(errors.New("invalid token")))
			return
		}

		ctx := context.WithValue(r.Context(), "jwt", token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
