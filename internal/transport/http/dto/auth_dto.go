package dto

type LoginRequest struct {
	AdminID int64  `json:"admin_id"`
	Secret  string `json:"secret"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type LogoutResponse struct {
	OK bool `json:"ok"`
}
