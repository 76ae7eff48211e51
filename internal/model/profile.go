package model

import "time"

// Profile はユーザーフォームで入力されるプロフィールデータを表す。
// フィールド単位のバリデーションはこのパッケージの責務外。
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	UpdatedAt time.Time `json:"updatedAt"`
}
