// Command dial_call places an outbound call whose audio is streamed to a
// running `livesub serve` with the twilio audio provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/harunnryd/livesub/pkg/configutil"
	"github.com/harunnryd/livesub/pkg/livesub"
	"github.com/harunnryd/livesub/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "livesub.yaml", "livesub configuration with audio.provider twilio")
	from := flag.String("from", "", "caller number")
	to := flag.String("to", "", "number to call")
	voiceURL := flag.String("voice_url", "", "override the webhook URL")
	sendDigits := flag.String("send_digits", "", "DTMF digits to send once answered")
	inline := flag.Bool("inline", false, "embed the stream TwiML instead of using the voice webhook")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: dial_call -from=+15550100 -to=+15550200 [-config=...] [-inline]")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg, err := livesub.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if !strings.EqualFold(cfg.Audio.Provider, "twilio") {
		fmt.Printf("audio.provider is %q, want twilio\n", cfg.Audio.Provider)
		os.Exit(1)
	}
	var settings twilio.Config
	if err := configutil.DecodeSettings(cfg.Audio.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}

	if *voiceURL == "" && settings.PublicURL == "" {
		fmt.Println("audio.settings.public_url is empty")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	callSID, err := twilio.NewDialer(settings).DialWithOptions(ctx, *to, *from, *voiceURL, twilio.DialOptions{
		SendDigits: *sendDigits,
		Inline:     *inline,
	})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
