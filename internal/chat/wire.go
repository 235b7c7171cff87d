package chat

import "fmt"

// Version is reported to every client in the welcome notice.
const Version = "chat-server 1.1"

const (
	namePrompt     = "닉네임을 입력하세요: "
	welcomeNotice  = Version + " 접속 완료. '/quit'로 종료, '/w 닉네임 내용'은 귓속말.\n"
	whisperUsage   = "[시스템] 사용법: /w 닉네임 내용\n"
	rateLimitedMsg = "[시스템] 메시지를 너무 빠르게 보내고 있습니다.\n"
	serverFullMsg  = "[시스템] 서버가 가득 찼습니다.\n"
)

func joinNotice(name string) string {
	return fmt.Sprintf("[시스템] %s님이 입장하셨습니다.\n", name)
}

func leaveNotice(name string) string {
	return fmt.Sprintf("[시스템] %s님이 퇴장하셨습니다.\n", name)
}

func chatLine(name, text string) string {
	return fmt.Sprintf("%s> %s\n", name, text)
}

func whisperDelivery(from, text string) string {
	return fmt.Sprintf("[귓속말][%s] %s\n", from, text)
}

func whisperEcho(to, text string) string {
	return fmt.Sprintf("[귓속말→%s] %s\n", to, text)
}

func whisperNotFound(to string) string {
	return fmt.Sprintf("[시스템] '%s' 사용자를 찾을 수 없습니다.\n", to)
}

// placeholderName is used when a client answers the prompt with an empty line.
func placeholderName(remoteAddr string) string {
	return "사용자@" + remoteAddr
}
