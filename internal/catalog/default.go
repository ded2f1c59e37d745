package catalog

var defaultDefinitions = []Definition{
	{
		ID:              "youtube-subscribe",
		Title:           "Subscribe to YouTube Channel",
		Description:     "Subscribe to our YouTube channel to support us",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://youtube.com/@skytup/?sub_confirmation=1",
		ActionLabel:     "Subscribe Now",
	},
	{
		ID:              "instagram-follow",
		Title:           "Follow on Instagram",
		Description:     "Follow us on Instagram for latest updates",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://instagram.com/skytupnet",
		ActionLabel:     "Follow Us",
	},
	{
		ID:              "telegram-join",
		Title:           "Join Telegram Group",
		Description:     "Join our Telegram community",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://t.me/skytupnet",
		ActionLabel:     "Join Telegram Group",
	},
	{
		ID:              "facebook-like",
		Title:           "Like Facebook Page",
		Description:     "Like our Facebook page to stay connected",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://facebook.com/skytup",
		ActionLabel:     "Like & Follow Page",
	},
	{
		ID:              "website-visit",
		Title:           "Visit Website",
		Description:     "Visit our official website",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://www.skytup.com",
		ActionLabel:     "Visit Now",
	},
	{
		ID:              "twitter-follow",
		Title:           "Follow on Twitter",
		Description:     "Follow us on Twitter for news and updates",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://twitter.com/skythecoder",
		ActionLabel:     "Follow",
	},
	{
		ID:              "youtube-subscribe-dev",
		Title:           "Subscribe to YouTube Channel",
		Description:     "Subscribe to our YouTube channel to support us",
		DurationSeconds: 30,
		Kind:            KindLink,
		ExternalLink:    "https://youtube.com/@dev_sky/?sub_confirmation=1",
		ActionLabel:     "Subscribe Now",
	},
	{
		ID:              "stay-focused",
		Title:           "Stay on this page",
		Description:     "Keep this page **focused** until the countdown ends. The timer pauses while you are away.",
		DurationSeconds: 20,
		Kind:            KindFocus,
		ActionLabel:     "Start Countdown",
	},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultDefinitions...)
	if err != nil {
		panic("catalog: invalid built-in catalog: " + err.Error())
	}
	return c
}
