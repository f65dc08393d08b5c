package i18n

// catalog holds every translatable string, keyed by message id then language.
// Format verbs follow fmt conventions.
var catalog = map[string]map[string]string{
	// Acknowledgements
	"enqueued": {
		LangEnglish: "Got it, I have enqueued your request.",
		LangChinese: "收到，已将你的请求加入队列。",
	},
	"generating_image": {
		LangEnglish: "Generating image... (Job ID: `%s`)",
		LangChinese: "正在生成图片……（任务ID：`%s`）",
	},
	"editing_image": {
		LangEnglish: "Editing image... (Job ID: `%s`)",
		LangChinese: "正在编辑图片……（任务ID：`%s`）",
	},

	// Terminal notifications
	"heres_your_image": {
		LangEnglish: "Here's your image!",
		LangChinese: "你的图片生成好了！",
	},
	"heres_your_edited_image": {
		LangEnglish: "Here's your edited image!",
		LangChinese: "你的编辑图片完成了！",
	},
	"something_went_wrong": {
		LangEnglish: "Sorry, something went wrong: %s",
		LangChinese: "抱歉，出了点问题：%s",
	},
	"job_timed_out": {
		LangEnglish: "Sorry, your request timed out before the backend finished.",
		LangChinese: "抱歉，你的请求在完成前超时了。",
	},
	"job_cancelled": {
		LangEnglish: "Your request was cancelled.",
		LangChinese: "你的请求已被取消。",
	},

	// Pre-submission failures
	"gen_pipeline_unavailable": {
		LangEnglish: "Sorry, the generation pipeline is not available right now.",
		LangChinese: "抱歉，图片生成服务目前不可用。",
	},
	"edit_pipeline_unavailable": {
		LangEnglish: "Sorry, the edit pipeline is not available right now.",
		LangChinese: "抱歉，图片编辑服务目前不可用。",
	},
	"invalid_request": {
		LangEnglish: "Invalid request: %s",
		LangChinese: "无效请求：%s",
	},
	"attach_valid_image": {
		LangEnglish: "Please attach a valid image file.",
		LangChinese: "请附加一个有效的图片文件。",
	},
	"source_not_found": {
		LangEnglish: "I couldn't find the image you're replying to anymore; please attach it again.",
		LangChinese: "找不到你回复的那张图片了，请重新附加图片。",
	},
	"cmd_not_available": {
		LangEnglish: "This command is not available here.",
		LangChinese: "此命令在当前位置不可用。",
	},

	// Status / queue / system
	"job_not_found": {
		LangEnglish: "Job not found.",
		LangChinese: "未找到该任务。",
	},
	"failed_get_status": {
		LangEnglish: "Failed to get status: %s",
		LangChinese: "获取状态失败：%s",
	},
	"failed_get_queue": {
		LangEnglish: "Failed to get queue info: %s",
		LangChinese: "获取队列信息失败：%s",
	},
	"failed_get_system": {
		LangEnglish: "Failed to get system info: %s",
		LangChinese: "获取系统信息失败：%s",
	},

	// Language command
	"language_set": {
		LangEnglish: "Language set to **%s**.",
		LangChinese: "语言已设置为**%s**。",
	},
	"language_current": {
		LangEnglish: "Current language: **%s**. Use `/language` to switch.",
		LangChinese: "当前语言：**%s**。使用 `/language` 切换。",
	},
}
